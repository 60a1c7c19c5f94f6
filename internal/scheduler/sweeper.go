package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

type OrderSweeper interface {
	SweepAutoClose(ctx context.Context) error
}

type RFQSweeper interface {
	SweepExpired(ctx context.Context) error
}

type DisputeSweeper interface {
	SweepTimeouts(ctx context.Context) error
}

// Sweeper drives the deadline-triggered transitions: RFQ expiry, dispute
// response timeouts and order auto-close. Every underlying operation is
// idempotent, so overlapping with user actions is safe.
type Sweeper struct {
	Orders   OrderSweeper
	RFQs     RFQSweeper
	Disputes DisputeSweeper
	Interval time.Duration
	Logger   *slog.Logger
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Logger.Info("sweeper started", "interval", s.Interval)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.Logger.Error("sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.RFQs.SweepExpired(ctx) })
	g.Go(func() error { return s.Disputes.SweepTimeouts(ctx) })
	g.Go(func() error { return s.Orders.SweepAutoClose(ctx) })
	return g.Wait()
}
