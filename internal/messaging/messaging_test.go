package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/supperclub/clubdesk/internal/sms/smstest"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

type fixture struct {
	svc  *Service
	st   *store.Store
	fake *smstest.Server
	ada  store.Member
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	fake := smstest.New(t)
	var mu sync.Mutex
	tick := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	svc := New(st, Options{
		Sender: fake.Client(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick = tick.Add(time.Minute)
			return tick
		},
		Concurrency: 2,
	})
	ada := store.Member{ID: "mem_000001", FirstName: "Ada", LastName: "Lovelace", Phone: "+15551230001", Status: store.MemberStatusActive}
	if err := st.Members.Put(context.Background(), ada.ID, ada); err != nil {
		t.Fatal(err)
	}
	return &fixture{svc: svc, st: st, fake: fake, ada: ada}
}

func TestSendToMember(t *testing.T) {
	f := newFixture(t)
	msg, err := f.svc.SendToMember(context.Background(), f.ada.ID, "Your table is ready")
	if err != nil {
		t.Fatalf("SendToMember: %v", err)
	}
	if msg.Status != store.MessageSent || msg.ProviderSID == "" || msg.From != smstest.From || msg.To != f.ada.Phone {
		t.Errorf("unexpected message: %+v", msg)
	}
	stored, _ := f.st.Messages.Fetch(context.Background(), msg.ID)
	if diff := cmp.Diff(*msg, stored); diff != "" {
		t.Errorf("stored message mismatch (-returned +stored):\n%s", diff)
	}
}

func TestSendToMemberValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	noPhone := store.Member{ID: "mem_000002", FirstName: "Grace"}
	_ = f.st.Members.Put(ctx, noPhone.ID, noPhone)

	if _, err := f.svc.SendToMember(ctx, f.ada.ID, "   "); !validate.IsValidation(err) {
		t.Errorf("empty body: %v", err)
	}
	if _, err := f.svc.SendToMember(ctx, noPhone.ID, "hi"); !validate.IsValidation(err) {
		t.Errorf("no phone: %v", err)
	}
	if _, err := f.svc.SendToMember(ctx, "mem_missing", "hi"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown member: %v", err)
	}
}

func TestSendFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	msg, err := f.svc.Deliver(context.Background(), smstest.MagicInvalid, "", "hello")
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if msg.Status != store.MessageFailed || msg.Error == "" {
		t.Errorf("failure not recorded: %+v", msg)
	}
}

func TestSendTextRendersPerRecipient(t *testing.T) {
	f := newFixture(t)
	results, err := f.svc.SendText(context.Background(), TextRequest{
		Phones:    []string{"(555) 123-0001", "555-123-0009", "12", smstest.MagicUnroutable},
		MemberIDs: []string{f.ada.ID, "mem_missing"},
		Body:      "Hi {{member.first_name}}!",
	})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}

	byTo := make(map[string]Result)
	var rejected int
	for _, r := range results {
		if r.MessageID == "" {
			rejected++
			continue
		}
		byTo[r.To] = r
	}
	if len(results) != 5 || rejected != 2 {
		t.Fatalf("got %d results (%d rejected): %+v", len(results), rejected, results)
	}
	if r := byTo[f.ada.Phone]; r.Status != store.MessageSent || r.MemberID != f.ada.ID {
		t.Errorf("ada: %+v", r)
	}
	if r := byTo[smstest.MagicUnroutable]; r.Status != store.MessageFailed || r.Error == "" {
		t.Errorf("unroutable: %+v", r)
	}
	if got := f.fake.SentTo(f.ada.Phone); len(got) != 1 || got[0] != "Hi Ada!" {
		t.Errorf("ada received %v", got)
	}
	if got := f.fake.SentTo("+15551230009"); len(got) != 1 || got[0] != "Hi !" {
		t.Errorf("stranger received %v", got)
	}
}

func TestSendTextBoundedConcurrency(t *testing.T) {
	f := newFixture(t)
	var phones []string
	for i := 0; i < 12; i++ {
		phones = append(phones, fmt.Sprintf("+1555999%04d", i))
	}
	results, err := f.svc.SendText(context.Background(), TextRequest{Phones: phones, Body: "Doors open at 6"})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(results) != 12 {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r.To != phones[i] || r.Status != store.MessageSent {
			t.Errorf("result %d: %+v", i, r)
		}
	}
	if max := f.fake.MaxInFlight.Load(); max > 2 {
		t.Errorf("max concurrent sends = %d, want <= 2", max)
	}
}

func TestSendTextRejectsBadTemplate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SendText(context.Background(), TextRequest{Phones: []string{"+15551230001"}, Body: "Hi {{member.nickname}}"})
	if !validate.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.fake.Messages.Count() != 0 {
		t.Error("nothing should be sent")
	}
}

// ---------------------------------------------------------------------------
// Inbound and threads
// ---------------------------------------------------------------------------

func TestReceiveInbound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.ReceiveInbound(ctx, Inbound{From: "+15551230001", To: smstest.From, Body: "Running late", SID: "SM100"})
	if err != nil {
		t.Fatalf("ReceiveInbound: %v", err)
	}
	if msg.MemberID != f.ada.ID || msg.Direction != store.DirectionInbound || msg.Status != store.MessageReceived {
		t.Errorf("unexpected message: %+v", msg)
	}
	again, err := f.svc.ReceiveInbound(ctx, Inbound{From: "+15551230001", Body: "Running late", SID: "SM100"})
	if err != nil || again.ID != msg.ID {
		t.Errorf("retry should return the stored message: %+v, %v", again, err)
	}

	unmatched, err := f.svc.ReceiveInbound(ctx, Inbound{From: "+15557770000", Body: "Who is this?", SID: "SM101"})
	if err != nil {
		t.Fatalf("ReceiveInbound: %v", err)
	}
	if unmatched.MemberID != "" {
		t.Errorf("stranger matched member %s", unmatched.MemberID)
	}
	if _, err := f.svc.ReceiveInbound(ctx, Inbound{From: "anonymous", Body: "x"}); !validate.IsValidation(err) {
		t.Errorf("bad sender: %v", err)
	}
}

func TestThreadConversationsMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.SendToMember(ctx, f.ada.ID, "See you at 7"); err != nil {
		t.Fatal(err)
	}
	for _, body := range []string{"Thanks", "Can we make it 4?"} {
		if _, err := f.svc.ReceiveInbound(ctx, Inbound{From: f.ada.Phone, Body: body}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.ReceiveInbound(ctx, Inbound{From: "+15557770000", Body: "Hello?"}); err != nil {
		t.Fatal(err)
	}

	thread, err := f.svc.Thread(ctx, f.ada.ID)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	var bodies []string
	for _, m := range thread {
		bodies = append(bodies, m.Body)
	}
	if diff := cmp.Diff([]string{"See you at 7", "Thanks", "Can we make it 4?"}, bodies); diff != "" {
		t.Errorf("thread mismatch (-want +got):\n%s", diff)
	}

	convs, err := f.svc.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations", len(convs))
	}
	if convs[0].Phone != "+15557770000" || convs[0].Unread != 1 || convs[0].MemberID != "" {
		t.Errorf("most recent conversation: %+v", convs[0])
	}
	if convs[1].MemberID != f.ada.ID || convs[1].Name != "Ada Lovelace" || convs[1].Unread != 2 || convs[1].Last.Body != "Can we make it 4?" {
		t.Errorf("ada conversation: %+v", convs[1])
	}

	n, err := f.svc.MarkRead(ctx, f.ada.ID)
	if err != nil || n != 2 {
		t.Fatalf("MarkRead = %d, %v", n, err)
	}
	convs, _ = f.svc.Conversations(ctx)
	if convs[1].Unread != 0 {
		t.Errorf("unread after MarkRead = %d", convs[1].Unread)
	}
}
