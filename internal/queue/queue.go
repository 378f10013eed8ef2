// Package queue implements the single-writer action queue: every Action
// that reaches the RIB, from whatever source (the admin HTTP ingress,
// the tick driver, a peer's internal protocol message), is serialized
// through one goroutine so plan/commit never runs concurrently with
// itself.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/orbisoperations/catalyst/internal/action"
	"github.com/orbisoperations/catalyst/internal/clock"
	"github.com/orbisoperations/catalyst/internal/fanout"
	"github.com/orbisoperations/catalyst/internal/logging"
	"github.com/orbisoperations/catalyst/internal/metrics"
	"github.com/orbisoperations/catalyst/internal/rib"
)

type job struct {
	now  int64
	act  action.Action
	resp chan jobResult
}

type jobResult struct {
	res *rib.CommitResult
	err error
}

// Queue serializes Dispatch calls against a RIB and forwards every
// successful commit to a Fanout. A failed dispatch never stops the
// queue; the next job is processed regardless.
type Queue struct {
	rib    *rib.RIB
	fanout *fanout.Fanout
	clock  clock.Clock
	logger logging.Logger

	observers []func(ctx context.Context, actionKind string, res *rib.CommitResult)

	jobs   chan job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Queue over r, forwarding every successful commit to
// fo. clk supplies the timestamp stamped onto non-tick actions; the tick
// driver stamps its own SystemTick.Now via DispatchAt instead. bufSize
// bounds how many pending jobs may queue up before Dispatch blocks.
func New(r *rib.RIB, fo *fanout.Fanout, clk clock.Clock, logger logging.Logger, bufSize int) *Queue {
	if logger == nil {
		logger = logging.Nop{}
	}
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Queue{
		rib:    r,
		fanout: fo,
		clock:  clk,
		logger: logger,
		jobs:   make(chan job, bufSize),
	}
}

// Start launches the queue's single processing goroutine. Calling Start
// twice without an intervening Stop is a programming error.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go q.run(ctx)
}

// AddObserver registers a callback invoked after every successful
// commit, alongside the fan-out dispatch, with the action's kind tag
// and the commit it produced. Observers run synchronously on the
// queue's single goroutine, so a slow observer throttles the whole
// queue the same way a slow fan-out send would; internal/audit and
// internal/eventbus both apply their own timeouts to stay bounded.
func (q *Queue) AddObserver(fn func(ctx context.Context, actionKind string, res *rib.CommitResult)) {
	q.observers = append(q.observers, fn)
}

// Stop cancels the processing goroutine and waits for it to drain its
// current job before returning. Queued-but-unstarted jobs are abandoned;
// their Dispatch callers get no result and return ctx.Err() only once
// their own ctx is done.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			metrics.QueueDepth.WithLabelValues().Set(float64(len(q.jobs)))
			start := time.Now()
			res, err := q.rib.Dispatch(j.now, j.act)
			metrics.CommitDuration.WithLabelValues(j.act.Kind()).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.ActionsDispatchedTotal.WithLabelValues(j.act.Kind(), "error").Inc()
				metrics.QueueDispatchErrorsTotal.WithLabelValues(j.act.Kind()).Inc()
				q.logger.Warnw("queue: dispatch failed", "action", j.act.Kind(), "error", err.Error())
			} else {
				metrics.ActionsDispatchedTotal.WithLabelValues(j.act.Kind(), "ok").Inc()
				q.updateGauges()
				if q.fanout != nil {
					q.fanout.Dispatch(ctx, res)
				}
				for _, obs := range q.observers {
					obs(ctx, j.act.Kind(), res)
				}
			}
			j.resp <- jobResult{res: res, err: err}
		}
	}
}

// updateGauges refreshes the route-key and per-status peer gauges from
// the post-commit table. Runs on the queue goroutine, so the State read
// never races a mutation.
func (q *Queue) updateGauges() {
	state := q.rib.State()
	metrics.RouteKeysTotal.WithLabelValues().Set(float64(len(state.RouteKeys())))
	byStatus := map[string]int{}
	for _, p := range state.Internal.Peers {
		byStatus[string(p.ConnectionStatus)]++
	}
	for _, status := range []string{"initializing", "connected", "closed"} {
		metrics.PeersTotal.WithLabelValues(status).Set(float64(byStatus[status]))
	}
}

// Dispatch enqueues act, stamped with the queue's clock reading, and
// blocks until it has been processed or ctx is done.
func (q *Queue) Dispatch(ctx context.Context, act action.Action) (*rib.CommitResult, error) {
	return q.submit(ctx, q.clock.Now(), act)
}

// DispatchAt enqueues act with an explicit timestamp, for callers (the
// tick driver) that must pass the same `now` they stamped onto the
// action itself.
func (q *Queue) DispatchAt(ctx context.Context, now int64, act action.Action) (*rib.CommitResult, error) {
	return q.submit(ctx, now, act)
}

func (q *Queue) submit(ctx context.Context, now int64, act action.Action) (*rib.CommitResult, error) {
	resp := make(chan jobResult, 1)
	select {
	case q.jobs <- job{now: now, act: act, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
