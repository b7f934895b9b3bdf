// Package ledger keeps member house-account transactions, their file
// attachments, and the import of house-account checks from the POS.
package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/supperclub/clubdesk/internal/pos"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// ErrPOSDisabled is returned by SyncPOS when no POS client is configured.
var ErrPOSDisabled = errors.New("pos sync is not configured")

// Blobs stores attachment bytes.
type Blobs interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// POS lists orders for a business date.
type POS interface {
	Orders(ctx context.Context, businessDate time.Time) ([]pos.Order, error)
}

// Options configures a Service.
type Options struct {
	Blobs        Blobs
	POS          POS
	MaxBytes     int64
	AllowedTypes []string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Service manages the ledger.
type Service struct {
	st       *store.Store
	blobs    Blobs
	pos      POS
	maxBytes int64
	allowed  map[string]bool
	logger   *slog.Logger
	now      func() time.Time

	sync sync.Mutex
}

// New creates a ledger service.
func New(st *store.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = st.Clock.Now
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	allowed := make(map[string]bool, len(opts.AllowedTypes))
	for _, t := range opts.AllowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Service{
		st: st, blobs: opts.Blobs, pos: opts.POS, maxBytes: opts.MaxBytes, allowed: allowed,
		logger: opts.Logger, now: opts.Now,
	}
}

// MaxBytes is the attachment size limit.
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// Transactions lists a member's transactions, newest first. An empty
// memberID lists every transaction.
func (s *Service) Transactions(ctx context.Context, memberID string) ([]store.Transaction, error) {
	out, err := s.st.Transactions.Match(ctx, func(_ string, t store.Transaction) bool {
		return memberID == "" || t.MemberID == memberID
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	slices.SortStableFunc(out, func(a, b store.Transaction) int {
		if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// Transaction returns one transaction.
func (s *Service) Transaction(ctx context.Context, id string) (*store.Transaction, error) {
	t, err := s.st.Transactions.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", id, err)
	}
	return &t, nil
}

// Balance sums a member's transactions in cents; positive means the member owes.
func (s *Service) Balance(ctx context.Context, memberID string) (int64, error) {
	txs, err := s.st.Transactions.Match(ctx, func(_ string, t store.Transaction) bool { return t.MemberID == memberID })
	if err != nil {
		return 0, fmt.Errorf("load transactions: %w", err)
	}
	var total int64
	for _, t := range txs {
		total += t.AmountCents
	}
	return total, nil
}

// TransactionInput is a manual ledger entry. Charges are stored positive and
// payments negative whatever sign is given; adjustments keep their sign.
type TransactionInput struct {
	MemberID    string     `json:"member_id"`
	Kind        string     `json:"kind"`
	AmountCents int64      `json:"amount_cents"`
	Description string     `json:"description"`
	OccurredAt  *time.Time `json:"occurred_at,omitempty"`
	ExternalRef string     `json:"external_ref,omitempty"`
}

// Record adds a transaction.
func (s *Service) Record(ctx context.Context, in TransactionInput) (*store.Transaction, error) {
	if err := validate.Required("member_id", in.MemberID, "description", in.Description); err != nil {
		return nil, err
	}
	if in.AmountCents == 0 {
		return nil, validate.Errorf("amount_cents", "must not be zero")
	}
	amount := in.AmountCents
	switch in.Kind {
	case store.TransactionCharge:
		amount = abs(amount)
	case store.TransactionPayment:
		amount = -abs(amount)
	case store.TransactionAdjustment:
	default:
		return nil, validate.Errorf("kind", "must be charge, payment or adjustment")
	}
	if _, err := s.st.Members.Fetch(ctx, in.MemberID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validate.Errorf("member_id", "unknown member %s", in.MemberID)
		}
		return nil, fmt.Errorf("load member: %w", err)
	}

	now := s.now()
	occurred := now
	if in.OccurredAt != nil {
		occurred = *in.OccurredAt
	}
	t := store.Transaction{
		ID:          s.st.Transactions.NextID(),
		MemberID:    in.MemberID,
		Kind:        in.Kind,
		AmountCents: amount,
		Description: strings.TrimSpace(in.Description),
		OccurredAt:  occurred,
		ExternalRef: in.ExternalRef,
		CreatedAt:   now,
	}
	if err := s.st.Transactions.Put(ctx, t.ID, t); err != nil {
		return nil, fmt.Errorf("save transaction: %w", err)
	}
	return &t, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// HouseAccount is a member with a POS house account and their balance.
type HouseAccount struct {
	MemberID       string `json:"member_id"`
	Name           string `json:"name"`
	HouseAccountID string `json:"house_account_id"`
	BalanceCents   int64  `json:"balance_cents"`
}

// HouseAccounts lists members that have a house account, by name.
func (s *Service) HouseAccounts(ctx context.Context) ([]HouseAccount, error) {
	members, err := s.st.Members.Match(ctx, func(_ string, m store.Member) bool { return m.HouseAccountID != "" })
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	txs, err := s.st.Transactions.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	balances := make(map[string]int64)
	for _, t := range txs {
		balances[t.MemberID] += t.AmountCents
	}
	out := make([]HouseAccount, 0, len(members))
	for _, m := range members {
		out = append(out, HouseAccount{
			MemberID: m.ID, Name: m.FullName(), HouseAccountID: m.HouseAccountID, BalanceCents: balances[m.ID],
		})
	}
	slices.SortFunc(out, func(a, b HouseAccount) int {
		return cmp.Or(strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)), strings.Compare(a.MemberID, b.MemberID))
	})
	return out, nil
}

// SyncResult summarises one POS import.
type SyncResult struct {
	BusinessDate string   `json:"business_date"`
	Checks       int      `json:"checks"`
	Imported     int      `json:"imported"`
	Skipped      int      `json:"skipped"`
	Unmatched    []string `json:"unmatched_house_accounts,omitempty"`
}

// SyncPOS imports the house-account checks of a business date as charges, or
// as credit adjustments for refunded checks.
// Each check is recorded once, keyed by its GUID, so re-running is safe.
func (s *Service) SyncPOS(ctx context.Context, businessDate time.Time) (*SyncResult, error) {
	if s.pos == nil {
		return nil, ErrPOSDisabled
	}
	s.sync.Lock()
	defer s.sync.Unlock()

	orders, err := s.pos.Orders(ctx, businessDate)
	if err != nil {
		return nil, fmt.Errorf("fetch pos orders: %w", err)
	}
	charges := pos.HouseAccountCharges(orders)

	members, err := s.st.Members.Match(ctx, func(_ string, m store.Member) bool { return m.HouseAccountID != "" })
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	byAccount := make(map[string]string, len(members))
	for _, m := range members {
		byAccount[m.HouseAccountID] = m.ID
	}
	existing, err := s.st.Transactions.Match(ctx, func(_ string, t store.Transaction) bool { return t.ExternalRef != "" })
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t.ExternalRef] = true
	}

	res := &SyncResult{BusinessDate: businessDate.Format(time.DateOnly), Checks: len(charges)}
	unmatched := map[string]bool{}
	for _, c := range charges {
		if seen[c.CheckGUID] {
			res.Skipped++
			continue
		}
		memberID, ok := byAccount[c.HouseAccountID]
		if !ok {
			if !unmatched[c.HouseAccountID] {
				unmatched[c.HouseAccountID] = true
				res.Unmatched = append(res.Unmatched, c.HouseAccountID)
			}
			continue
		}
		occurred := c.ClosedAt
		if occurred.IsZero() {
			occurred = businessDate
		}
		// A check whose house-account payments net negative is a refund.
		kind := store.TransactionCharge
		if c.AmountCents < 0 {
			kind = store.TransactionAdjustment
		}
		if _, err := s.Record(ctx, TransactionInput{
			MemberID:    memberID,
			Kind:        kind,
			AmountCents: c.AmountCents,
			Description: "POS check #" + c.CheckNumber,
			OccurredAt:  &occurred,
			ExternalRef: c.CheckGUID,
		}); err != nil {
			return res, fmt.Errorf("record check %s: %w", c.CheckGUID, err)
		}
		seen[c.CheckGUID] = true
		res.Imported++
	}
	s.logger.Info("pos sync finished",
		"business_date", res.BusinessDate, "checks", res.Checks, "imported", res.Imported,
		"skipped", res.Skipped, "unmatched", len(res.Unmatched))
	return res, nil
}
