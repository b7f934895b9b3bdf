package store

import (
	"context"
	"encoding/json"
	"fmt"

	pkgstore "github.com/supperclub/clubdesk/pkg/store"
	"github.com/supperclub/clubdesk/pkg/store/sqlitestore"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = pkgstore.ErrNotFound

// Collection is re-exported so services depend on this package only.
type Collection[T any] = pkgstore.Collection[T]

// Store holds every clubdesk collection plus the simulated clock.
type Store struct {
	Members            Collection[Member]
	PaymentMethods     Collection[PaymentMethod]
	Tables             Collection[Table]
	Events             Collection[Event]
	PrivateEvents      Collection[PrivateEvent]
	Reservations       Collection[Reservation]
	Holds              Collection[Hold]
	Messages           Collection[Message]
	Campaigns          Collection[Campaign]
	ReminderTemplates  Collection[ReminderTemplate]
	ReminderDeliveries Collection[ReminderDelivery]
	Waitlist           Collection[WaitlistEntry]
	Transactions       Collection[Transaction]
	Attachments        Collection[Attachment]
	Clock              *pkgstore.Clock

	closer func() error
}

// Config selects the storage backend.
type Config struct {
	Driver string // "memory" or "sqlite"
	Path   string
}

// Open builds a Store for the configured driver.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewMemory creates a Store with empty in-memory collections.
func NewMemory() *Store {
	return &Store{
		Members:            pkgstore.New[Member]("mem"),
		PaymentMethods:     pkgstore.New[PaymentMethod]("pm"),
		Tables:             pkgstore.New[Table]("tbl"),
		Events:             pkgstore.New[Event]("evt"),
		PrivateEvents:      pkgstore.New[PrivateEvent]("pev"),
		Reservations:       pkgstore.New[Reservation]("res"),
		Holds:              pkgstore.New[Hold]("hold"),
		Messages:           pkgstore.New[Message]("msg"),
		Campaigns:          pkgstore.New[Campaign]("cmp"),
		ReminderTemplates:  pkgstore.New[ReminderTemplate]("rmt"),
		ReminderDeliveries: pkgstore.New[ReminderDelivery]("rmd"),
		Waitlist:           pkgstore.New[WaitlistEntry]("wl"),
		Transactions:       pkgstore.New[Transaction]("txn"),
		Attachments:        pkgstore.New[Attachment]("att"),
		Clock:              pkgstore.NewClock(),
	}
}

// OpenSQLite creates a Store whose collections live in the SQLite file at path.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitestore.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{
		Members:            sqlitestore.NewCollection[Member](db, "members", "mem"),
		PaymentMethods:     sqlitestore.NewCollection[PaymentMethod](db, "payment_methods", "pm"),
		Tables:             sqlitestore.NewCollection[Table](db, "tables", "tbl"),
		Events:             sqlitestore.NewCollection[Event](db, "events", "evt"),
		PrivateEvents:      sqlitestore.NewCollection[PrivateEvent](db, "private_events", "pev"),
		Reservations:       sqlitestore.NewCollection[Reservation](db, "reservations", "res"),
		Holds:              sqlitestore.NewCollection[Hold](db, "holds", "hold"),
		Messages:           sqlitestore.NewCollection[Message](db, "messages", "msg"),
		Campaigns:          sqlitestore.NewCollection[Campaign](db, "campaigns", "cmp"),
		ReminderTemplates:  sqlitestore.NewCollection[ReminderTemplate](db, "reminder_templates", "rmt"),
		ReminderDeliveries: sqlitestore.NewCollection[ReminderDelivery](db, "reminder_deliveries", "rmd"),
		Waitlist:           sqlitestore.NewCollection[WaitlistEntry](db, "waitlist", "wl"),
		Transactions:       sqlitestore.NewCollection[Transaction](db, "transactions", "txn"),
		Attachments:        sqlitestore.NewCollection[Attachment](db, "attachments", "att"),
		Clock:              pkgstore.NewClock(),
		closer:             db.Close,
	}, nil
}

// Close releases the backend, if it holds any resources.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// state is the JSON shape of a full export. It doubles as the seed file format.
type state struct {
	Members            map[string]Member           `json:"members"`
	PaymentMethods     map[string]PaymentMethod    `json:"payment_methods"`
	Tables             map[string]Table            `json:"tables"`
	Events             map[string]Event            `json:"events"`
	PrivateEvents      map[string]PrivateEvent     `json:"private_events"`
	Reservations       map[string]Reservation      `json:"reservations"`
	Holds              map[string]Hold             `json:"holds"`
	Messages           map[string]Message          `json:"messages"`
	Campaigns          map[string]Campaign         `json:"campaigns"`
	ReminderTemplates  map[string]ReminderTemplate `json:"reminder_templates"`
	ReminderDeliveries map[string]ReminderDelivery `json:"reminder_deliveries"`
	Waitlist           map[string]WaitlistEntry    `json:"waitlist"`
	Transactions       map[string]Transaction      `json:"transactions"`
	Attachments        map[string]Attachment       `json:"attachments"`
}

// Snapshot returns the full state as a JSON-serializable value.
func (s *Store) Snapshot(ctx context.Context) (any, error) {
	var st state
	errs := []error{
		dump(ctx, s.Members, &st.Members),
		dump(ctx, s.PaymentMethods, &st.PaymentMethods),
		dump(ctx, s.Tables, &st.Tables),
		dump(ctx, s.Events, &st.Events),
		dump(ctx, s.PrivateEvents, &st.PrivateEvents),
		dump(ctx, s.Reservations, &st.Reservations),
		dump(ctx, s.Holds, &st.Holds),
		dump(ctx, s.Messages, &st.Messages),
		dump(ctx, s.Campaigns, &st.Campaigns),
		dump(ctx, s.ReminderTemplates, &st.ReminderTemplates),
		dump(ctx, s.ReminderDeliveries, &st.ReminderDeliveries),
		dump(ctx, s.Waitlist, &st.Waitlist),
		dump(ctx, s.Transactions, &st.Transactions),
		dump(ctx, s.Attachments, &st.Attachments),
	}
	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
	}
	return st, nil
}

func dump[T any](ctx context.Context, c Collection[T], dst *map[string]T) error {
	items, err := c.Dump(ctx)
	if err != nil {
		return err
	}
	*dst = items
	return nil
}

// LoadState replaces every collection present in data. Collections missing
// from the JSON are left untouched.
func (s *Store) LoadState(ctx context.Context, data []byte) error {
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse state: %w", err)
	}
	if err := restore(ctx, s.Members, st.Members); err != nil {
		return err
	}
	if err := restore(ctx, s.PaymentMethods, st.PaymentMethods); err != nil {
		return err
	}
	if err := restore(ctx, s.Tables, st.Tables); err != nil {
		return err
	}
	if err := restore(ctx, s.Events, st.Events); err != nil {
		return err
	}
	if err := restore(ctx, s.PrivateEvents, st.PrivateEvents); err != nil {
		return err
	}
	if err := restore(ctx, s.Reservations, st.Reservations); err != nil {
		return err
	}
	if err := restore(ctx, s.Holds, st.Holds); err != nil {
		return err
	}
	if err := restore(ctx, s.Messages, st.Messages); err != nil {
		return err
	}
	if err := restore(ctx, s.Campaigns, st.Campaigns); err != nil {
		return err
	}
	if err := restore(ctx, s.ReminderTemplates, st.ReminderTemplates); err != nil {
		return err
	}
	if err := restore(ctx, s.ReminderDeliveries, st.ReminderDeliveries); err != nil {
		return err
	}
	if err := restore(ctx, s.Waitlist, st.Waitlist); err != nil {
		return err
	}
	if err := restore(ctx, s.Transactions, st.Transactions); err != nil {
		return err
	}
	return restore(ctx, s.Attachments, st.Attachments)
}

func restore[T any](ctx context.Context, c Collection[T], items map[string]T) error {
	if items == nil {
		return nil
	}
	if err := c.Restore(ctx, items); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	return nil
}

// Reset clears all state and the clock offset.
func (s *Store) Reset(ctx context.Context) error {
	clears := []func(context.Context) error{
		s.Members.Clear, s.PaymentMethods.Clear, s.Tables.Clear, s.Events.Clear,
		s.PrivateEvents.Clear, s.Reservations.Clear, s.Holds.Clear, s.Messages.Clear,
		s.Campaigns.Clear, s.ReminderTemplates.Clear, s.ReminderDeliveries.Clear,
		s.Waitlist.Clear, s.Transactions.Clear, s.Attachments.Clear,
	}
	for _, fn := range clears {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	s.Clock.Reset()
	return nil
}
