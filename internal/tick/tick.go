// Package tick implements the periodic driver that emits system:tick
// actions at a fixed cadence, so hold-timer expiry and keepalive
// scheduling happen even with no peer traffic. The driver itself holds
// no routing state; all expiry logic lives in the RIB's tick handling.
package tick

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbisoperations/catalyst/internal/action"
	"github.com/orbisoperations/catalyst/internal/clock"
	"github.com/orbisoperations/catalyst/internal/logging"
	"github.com/orbisoperations/catalyst/internal/queue"
)

// DefaultInterval is the tick cadence used when none is configured.
const DefaultInterval = time.Second

// Driver periodically dispatches a SystemTick action against a queue.
type Driver struct {
	q        *queue.Queue
	clk      clock.Clock
	interval time.Duration
	logger   logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	ticked atomic.Bool
}

// New constructs a Driver. A non-positive interval falls back to
// DefaultInterval.
func New(q *queue.Queue, clk clock.Clock, interval time.Duration, logger logging.Logger) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Driver{q: q, clk: clk, interval: interval, logger: logger}
}

// Start launches the ticking goroutine.
func (d *Driver) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop cancels the ticking goroutine and waits for it to exit.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Driver) run(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := d.clk.Now()
			if _, err := d.q.DispatchAt(ctx, now, action.SystemTick{Now: now}); err != nil {
				d.logger.Warnw("tick: dispatch failed", "error", err.Error())
			} else {
				d.ticked.Store(true)
			}
		}
	}
}

// Ticked reports whether the driver has successfully dispatched at
// least one SystemTick action. The admin server's readiness check uses
// this as the signal that the action queue is actually processing work,
// not just that its goroutine started.
func (d *Driver) Ticked() bool {
	return d.ticked.Load()
}
