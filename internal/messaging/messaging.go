// Package messaging sends and receives member SMS and keeps the chat history.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/supperclub/clubdesk/internal/render"
	"github.com/supperclub/clubdesk/internal/sms"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// ErrSendFailed is returned when the SMS provider rejects a message.
var ErrSendFailed = errors.New("sms send failed")

// maxBodyLen is ten concatenated SMS segments.
const maxBodyLen = 1600

// Sender delivers one SMS.
type Sender interface {
	Send(ctx context.Context, to, body string) (*sms.Message, error)
	From() string
}

// Options configures a Service.
type Options struct {
	Sender      Sender
	Logger      *slog.Logger
	Now         func() time.Time
	Concurrency int // parallel sends for bulk operations
}

// Service is the messaging service.
type Service struct {
	st          *store.Store
	sender      Sender
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// New creates a messaging service.
func New(st *store.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = st.Clock.Now
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Service{st: st, sender: opts.Sender, logger: opts.Logger, now: opts.Now, concurrency: opts.Concurrency}
}

func checkBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return validate.Errorf("body", "is required")
	}
	if len(body) > maxBodyLen {
		return validate.Errorf("body", "must be at most %d characters", maxBodyLen)
	}
	return nil
}

// Deliver records an outbound message and sends it. A provider failure is
// recorded on the message, which is returned along with an error wrapping
// ErrSendFailed.
func (s *Service) Deliver(ctx context.Context, to, memberID, body string) (*store.Message, error) {
	msg := store.Message{
		ID:        s.st.Messages.NextID(),
		MemberID:  memberID,
		Direction: store.DirectionOutbound,
		To:        to,
		Body:      body,
		Status:    store.MessageQueued,
		CreatedAt: s.now(),
	}
	if s.sender != nil {
		msg.From = s.sender.From()
	}
	if err := s.st.Messages.Put(ctx, msg.ID, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	var sendErr error
	if s.sender == nil {
		sendErr = errors.New("no sms provider configured")
	} else {
		var sent *sms.Message
		if sent, sendErr = s.sender.Send(ctx, to, body); sendErr == nil {
			msg.ProviderSID = sent.SID
			msg.Status = store.MessageSent
			if sent.From != "" {
				msg.From = sent.From
			}
		}
	}
	if sendErr != nil {
		msg.Status = store.MessageFailed
		msg.Error = sendErr.Error()
		s.logger.Warn("sms send failed", "message_id", msg.ID, "to", to, "err", sendErr)
	}
	if err := s.st.Messages.Put(ctx, msg.ID, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	if sendErr != nil {
		return &msg, fmt.Errorf("%w: %v", ErrSendFailed, sendErr)
	}
	s.logger.Debug("sms sent", "message_id", msg.ID, "sid", msg.ProviderSID)
	return &msg, nil
}

// SendToMember sends body to the member's phone.
func (s *Service) SendToMember(ctx context.Context, memberID, body string) (*store.Message, error) {
	if err := checkBody(body); err != nil {
		return nil, err
	}
	m, err := s.st.Members.Fetch(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", memberID, err)
	}
	if m.Phone == "" {
		return nil, validate.Errorf("member_id", "member %s has no phone number", memberID)
	}
	return s.Deliver(ctx, m.Phone, m.ID, body)
}

// Recipient is one addressee of a bulk send.
type Recipient struct {
	Phone    string
	MemberID string
	Vars     render.Vars
}

// Result is the outcome for one recipient.
type Result struct {
	To        string `json:"to"`
	MemberID  string `json:"member_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// SendEach renders tmpl for every recipient and sends the results with
// bounded concurrency. Results are in recipient order; individual failures do
// not stop the batch.
func (s *Service) SendEach(ctx context.Context, recipients []Recipient, tmpl string) ([]Result, error) {
	if err := render.Validate(tmpl); err != nil {
		return nil, validate.Errorf("body", "%v", err)
	}
	results := make([]Result, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, rc := range recipients {
		g.Go(func() error {
			res := Result{To: rc.Phone, MemberID: rc.MemberID, Status: store.MessageFailed}
			defer func() { results[i] = res }()

			body, err := render.Expand(tmpl, rc.Vars)
			if err != nil {
				res.Error = err.Error()
				return nil
			}
			msg, err := s.Deliver(gctx, rc.Phone, rc.MemberID, body)
			if msg != nil {
				res.MessageID = msg.ID
				res.Status = msg.Status
			}
			if err != nil {
				res.Error = err.Error()
				if !errors.Is(err, ErrSendFailed) {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("bulk send: %w", err)
	}
	return results, nil
}

// TextRequest is a bulk SMS to phone numbers and members.
type TextRequest struct {
	Phones    []string `json:"phones"`
	MemberIDs []string `json:"member_ids"`
	Body      string   `json:"body"`
}

// SendText sends a templated SMS to every listed phone and member. Numbers
// belonging to a member are rendered with that member's details; duplicates
// are sent once. Unusable numbers are reported in the results without a send.
func (s *Service) SendText(ctx context.Context, req TextRequest) ([]Result, error) {
	if err := checkBody(req.Body); err != nil {
		return nil, err
	}
	if len(req.Phones) == 0 && len(req.MemberIDs) == 0 {
		return nil, validate.Errorf("phones", "at least one recipient is required")
	}
	members, err := s.st.Members.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	byID := make(map[string]store.Member, len(members))
	byPhone := make(map[string]store.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
		if m.Phone != "" {
			byPhone[m.Phone] = m
		}
	}

	var (
		recipients []Recipient
		rejected   []Result
		seen       = make(map[string]bool)
	)
	add := func(phone string, m *store.Member) {
		if seen[phone] {
			return
		}
		seen[phone] = true
		rc := Recipient{Phone: phone, Vars: render.ForMember(store.Member{Phone: phone})}
		if m != nil {
			rc.MemberID = m.ID
			rc.Vars = render.ForMember(*m)
		}
		recipients = append(recipients, rc)
	}
	for _, id := range req.MemberIDs {
		m, ok := byID[id]
		switch {
		case !ok:
			rejected = append(rejected, Result{MemberID: id, Status: store.MessageFailed, Error: "member not found"})
		case m.Phone == "":
			rejected = append(rejected, Result{MemberID: id, Status: store.MessageFailed, Error: "member has no phone number"})
		default:
			add(m.Phone, &m)
		}
	}
	for _, raw := range req.Phones {
		phone := sms.NormalizePhone(raw)
		if phone == "" {
			rejected = append(rejected, Result{To: raw, Status: store.MessageFailed, Error: "invalid phone number"})
			continue
		}
		if m, ok := byPhone[phone]; ok {
			add(phone, &m)
		} else {
			add(phone, nil)
		}
	}

	results, err := s.SendEach(ctx, recipients, req.Body)
	if err != nil {
		return nil, err
	}
	s.logger.Info("bulk text sent", "recipients", len(recipients), "rejected", len(rejected))
	return append(results, rejected...), nil
}

// Inbound is a message received from the provider webhook.
type Inbound struct {
	From string
	To   string
	Body string
	SID  string
}

// ReceiveInbound stores an inbound message, attached to the member with the
// sender's phone when there is one. Provider retries with a known SID return
// the stored message.
func (s *Service) ReceiveInbound(ctx context.Context, in Inbound) (*store.Message, error) {
	from := sms.NormalizePhone(in.From)
	if from == "" {
		return nil, validate.Errorf("From", "%q is not a phone number", in.From)
	}
	if in.SID != "" {
		dupes, err := s.st.Messages.Match(ctx, func(_ string, m store.Message) bool { return m.ProviderSID == in.SID })
		if err != nil {
			return nil, fmt.Errorf("check duplicate: %w", err)
		}
		if len(dupes) > 0 {
			return &dupes[0], nil
		}
	}
	msg := store.Message{
		ID:          s.st.Messages.NextID(),
		Direction:   store.DirectionInbound,
		From:        from,
		To:          in.To,
		Body:        in.Body,
		ProviderSID: in.SID,
		Status:      store.MessageReceived,
		CreatedAt:   s.now(),
	}
	members, err := s.st.Members.Match(ctx, func(_ string, m store.Member) bool { return m.Phone == from })
	if err != nil {
		return nil, fmt.Errorf("find member: %w", err)
	}
	if len(members) > 0 {
		msg.MemberID = members[0].ID
	}
	if err := s.st.Messages.Put(ctx, msg.ID, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	s.logger.Info("sms received", "message_id", msg.ID, "member_id", msg.MemberID)
	return &msg, nil
}

// Thread returns a member's messages, oldest first.
func (s *Service) Thread(ctx context.Context, memberID string) ([]store.Message, error) {
	if _, err := s.st.Members.Fetch(ctx, memberID); err != nil {
		return nil, fmt.Errorf("member %s: %w", memberID, err)
	}
	out, err := s.st.Messages.Match(ctx, func(_ string, m store.Message) bool { return m.MemberID == memberID })
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	slices.SortStableFunc(out, func(a, b store.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Conversation summarises one thread. Unmatched senders are keyed by phone.
type Conversation struct {
	MemberID string        `json:"member_id,omitempty"`
	Name     string        `json:"name,omitempty"`
	Phone    string        `json:"phone"`
	Last     store.Message `json:"last"`
	Unread   int           `json:"unread"`
}

// Conversations returns one entry per member or unmatched sender, most recent first.
func (s *Service) Conversations(ctx context.Context) ([]Conversation, error) {
	msgs, err := s.st.Messages.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	byKey := make(map[string]*Conversation)
	for _, m := range msgs {
		key, phone := m.MemberID, m.To
		if m.Direction == store.DirectionInbound {
			phone = m.From
		}
		if key == "" {
			key = phone
		}
		c, ok := byKey[key]
		if !ok {
			c = &Conversation{MemberID: m.MemberID, Phone: phone}
			byKey[key] = c
		}
		if !m.CreatedAt.Before(c.Last.CreatedAt) {
			c.Last = m
		}
		if m.Direction == store.DirectionInbound && m.ReadAt == nil {
			c.Unread++
		}
	}

	out := make([]Conversation, 0, len(byKey))
	for _, c := range byKey {
		if c.MemberID != "" {
			if mem, err := s.st.Members.Fetch(ctx, c.MemberID); err == nil {
				c.Name = mem.FullName()
				if mem.Phone != "" {
					c.Phone = mem.Phone
				}
			}
		}
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.Last.CreatedAt.Compare(a.Last.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Phone, b.Phone)
	})
	return out, nil
}

// MarkRead marks a member's inbound messages read and returns how many changed.
func (s *Service) MarkRead(ctx context.Context, memberID string) (int, error) {
	unread, err := s.st.Messages.Match(ctx, func(_ string, m store.Message) bool {
		return m.MemberID == memberID && m.Direction == store.DirectionInbound && m.ReadAt == nil
	})
	if err != nil {
		return 0, fmt.Errorf("load messages: %w", err)
	}
	now := s.now()
	for _, m := range unread {
		m.ReadAt = &now
		if err := s.st.Messages.Put(ctx, m.ID, m); err != nil {
			return 0, fmt.Errorf("save message: %w", err)
		}
	}
	return len(unread), nil
}
