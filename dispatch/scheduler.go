package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/manutech/courier-server/db"
)

const (
	schedulerInterval = 15 * time.Second
	schedulerBatch    = 50
)

// Scheduler drains due outbox rows back through the Dispatcher. It is
// the only retry mechanism: deferred and failed sends become pending
// rows with a future next_attempt_at, and this loop re-hands them to
// Send once that time passes.
type Scheduler struct {
	db       *db.DB
	d        *Dispatcher
	interval time.Duration
}

func NewScheduler(database *db.DB, d *Dispatcher) *Scheduler {
	return &Scheduler{db: database, d: d, interval: schedulerInterval}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("outbox scheduler started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	msgs, err := s.db.DueMessages(time.Now(), schedulerBatch)
	if err != nil {
		slog.Error("scheduler: due query failed", "err", err)
		return
	}

	for i := range msgs {
		if ctx.Err() != nil {
			return
		}
		m := msgs[i]
		out := s.d.Send(ctx, &m)
		slog.Debug("scheduler: processed message", "id", m.ID, "code", string(out.Code))
	}
}
