package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"marketplace/internal/scheduler"

	"github.com/stretchr/testify/require"
)

type countingSweep struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweep) sweep(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

type orderSweep struct{ countingSweep }

func (o *orderSweep) SweepAutoClose(ctx context.Context) error { return o.sweep(ctx) }

type rfqSweep struct{ countingSweep }

func (r *rfqSweep) SweepExpired(ctx context.Context) error { return r.sweep(ctx) }

type disputeSweep struct{ countingSweep }

func (d *disputeSweep) SweepTimeouts(ctx context.Context) error { return d.sweep(ctx) }

func TestSweepOnceRunsAllSweeps(t *testing.T) {
	orders := &orderSweep{}
	rfqs := &rfqSweep{}
	disputes := &disputeSweep{}
	s := &scheduler.Sweeper{Orders: orders, RFQs: rfqs, Disputes: disputes, Logger: slog.Default()}

	require.NoError(t, s.SweepOnce(context.Background()))
	require.Equal(t, int32(1), orders.calls.Load())
	require.Equal(t, int32(1), rfqs.calls.Load())
	require.Equal(t, int32(1), disputes.calls.Load())
}

func TestSweepOnceReportsFailure(t *testing.T) {
	orders := &orderSweep{}
	rfqs := &rfqSweep{countingSweep{err: errors.New("db down")}}
	disputes := &disputeSweep{}
	s := &scheduler.Sweeper{Orders: orders, RFQs: rfqs, Disputes: disputes, Logger: slog.Default()}

	require.Error(t, s.SweepOnce(context.Background()))
}
