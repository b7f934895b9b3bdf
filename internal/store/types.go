// Package store defines clubdesk's record types and the aggregate store that
// holds one collection per type.
package store

import "time"

// Member is a club member.
type Member struct {
	ID                  string    `json:"id"`
	FirstName           string    `json:"first_name"`
	LastName            string    `json:"last_name"`
	Email               string    `json:"email"`
	Phone               string    `json:"phone"`
	Status              string    `json:"status"`
	HouseAccountID      string    `json:"house_account_id,omitempty"`
	ProcessorCustomerID string    `json:"processor_customer_id,omitempty"`
	Tags                []string  `json:"tags,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// FullName joins first and last name.
func (m Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

// Member status values.
const (
	MemberStatusActive    = "active"
	MemberStatusInactive  = "inactive"
	MemberStatusSuspended = "suspended"
)

// PaymentMethod is a card on file at the payment processor.
type PaymentMethod struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id"`
	ProcessorID string    `json:"processor_id"`
	Brand       string    `json:"brand"`
	Last4       string    `json:"last4"`
	ExpMonth    int       `json:"exp_month"`
	ExpYear     int       `json:"exp_year"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// Table is a bookable dining table.
type Table struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Seats    int    `json:"seats"`
	MinSeats int    `json:"min_seats"`
	Section  string `json:"section,omitempty"`
	Active   bool   `json:"active"`
}

// Event is a calendar entry. Closures block availability; other kinds are informational.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Kind        string    `json:"kind"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
}

// Event kinds.
const (
	EventKindClosure = "closure"
	EventKindSpecial = "special"
	EventKindNote    = "note"
)

// PrivateEvent is a private booking of some tables or the whole room.
type PrivateEvent struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	TableIDs     []string  `json:"table_ids,omitempty"`
	Buyout       bool      `json:"buyout"`
	ContactName  string    `json:"contact_name"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	GuestCount   int       `json:"guest_count"`
	DepositCents int64     `json:"deposit_cents"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Private event status values.
const (
	PrivateEventInquiry   = "inquiry"
	PrivateEventConfirmed = "confirmed"
	PrivateEventCancelled = "cancelled"
)

// Reservation is a table booking.
type Reservation struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"member_id,omitempty"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	PartySize int       `json:"party_size"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	TableID   string    `json:"table_id"`
	Status    string    `json:"status"`
	Source    string    `json:"source"`
	HoldID    string    `json:"hold_id,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Live reports whether the reservation still occupies its table.
func (r Reservation) Live() bool {
	switch r.Status {
	case ReservationPending, ReservationConfirmed, ReservationSeated:
		return true
	}
	return false
}

// Reservation status values.
const (
	ReservationPending   = "pending"
	ReservationConfirmed = "confirmed"
	ReservationSeated    = "seated"
	ReservationCompleted = "completed"
	ReservationCancelled = "cancelled"
	ReservationNoShow    = "no_show"
)

// Reservation sources.
const (
	SourceMember = "member"
	SourcePublic = "public"
	SourceStaff  = "staff"
)

// Hold is a card authorization securing a reservation.
type Hold struct {
	ID             string    `json:"id"`
	ReservationID  string    `json:"reservation_id,omitempty"`
	IntentID       string    `json:"intent_id"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	PartySize      int       `json:"party_size"`
	Start          time.Time `json:"start"`
	Email          string    `json:"email,omitempty"`
	Status         string    `json:"status"`
	ClientSecret   string    `json:"client_secret,omitempty"`
	FailureMessage string    `json:"failure_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Hold status values.
const (
	HoldRequiresAction = "requires_action"
	HoldAuthorized     = "authorized"
	HoldCaptured       = "captured"
	HoldReleased       = "released"
	HoldFailed         = "failed"
)

// Message is one SMS or chat message exchanged with a member.
type Message struct {
	ID          string     `json:"id"`
	MemberID    string     `json:"member_id,omitempty"`
	Direction   string     `json:"direction"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Body        string     `json:"body"`
	ProviderSID string     `json:"provider_sid,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// Message directions and local statuses.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	MessageQueued   = "queued"
	MessageSent     = "sent"
	MessageFailed   = "failed"
	MessageReceived = "received"
)

// Campaign is a bulk SMS send to an audience of members.
type Campaign struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Body         string     `json:"body"`
	Audience     string     `json:"audience"`
	Tag          string     `json:"tag,omitempty"`
	Status       string     `json:"status"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	SentCount    int        `json:"sent_count"`
	FailedCount  int        `json:"failed_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Campaign status and audience values.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignSent      = "sent"

	AudienceAll    = "all"
	AudienceActive = "active"
	AudienceTag    = "tag"
)

// ReminderTemplate is an SMS sent a fixed offset before confirmed reservations.
type ReminderTemplate struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Body          string    `json:"body"`
	OffsetMinutes int       `json:"offset_minutes"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ReminderDelivery records that a template was sent for a reservation.
type ReminderDelivery struct {
	ID            string    `json:"id"`
	TemplateID    string    `json:"template_id"`
	ReservationID string    `json:"reservation_id"`
	MessageID     string    `json:"message_id"`
	SentAt        time.Time `json:"sent_at"`
}

// WaitlistEntry is a membership application awaiting review.
type WaitlistEntry struct {
	ID         string     `json:"id"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	Company    string     `json:"company,omitempty"`
	ReferredBy string     `json:"referred_by,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Status     string     `json:"status"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	MemberID   string     `json:"member_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Waitlist status values.
const (
	WaitlistPending  = "pending"
	WaitlistApproved = "approved"
	WaitlistDenied   = "denied"
)

// Transaction is a house-account ledger entry. Charges are positive, payments negative.
type Transaction struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id"`
	Kind        string    `json:"kind"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
	ExternalRef string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transaction kinds.
const (
	TransactionCharge     = "charge"
	TransactionPayment    = "payment"
	TransactionAdjustment = "adjustment"
)

// Attachment is a file (receipt, invoice) attached to a ledger transaction.
type Attachment struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	FileName      string    `json:"file_name"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	SHA256        string    `json:"sha256"`
	BlobKey       string    `json:"blob_key"`
	UploadedAt    time.Time `json:"uploaded_at"`
}
