package reminders

import (
	"context"
	"log/slog"
	"time"
)

// CampaignDispatcher sends scheduled campaigns that have come due.
type CampaignDispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (int, error)
}

// Worker runs reminders and due campaigns on a fixed interval.
type Worker struct {
	reminders *Service
	campaigns CampaignDispatcher
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewWorker creates a worker ticking at the reminder service's interval.
// campaigns may be nil.
func NewWorker(reminders *Service, campaigns CampaignDispatcher) *Worker {
	return &Worker{
		reminders: reminders,
		campaigns: campaigns,
		interval:  reminders.interval,
		logger:    reminders.logger,
		now:       reminders.now,
	}
}

// TickResult counts what one tick sent.
type TickResult struct {
	Reminders int `json:"reminders"`
	Campaigns int `json:"campaigns"`
}

// Tick runs one pass. Errors are logged so one failing step does not block the other.
func (w *Worker) Tick(ctx context.Context) TickResult {
	now := w.now()
	var out TickResult
	n, err := w.reminders.RunDue(ctx, now)
	if err != nil {
		w.logger.Error("reminder run failed", "err", err)
	}
	out.Reminders = n
	if w.campaigns != nil {
		n, err := w.campaigns.DispatchDue(ctx, now)
		if err != nil {
			w.logger.Error("campaign dispatch failed", "err", err)
		}
		out.Campaigns = n
	}
	return out
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("reminder worker started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reminder worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}
