// Package fanout is the propagation fan-out stage: given a commit's
// result, it sends every peer-addressed Propagation through its
// PeerTransport in parallel and pushes the dataplane snapshot to its
// sink. Sends settle independently; failures are aggregated and logged
// after every peer has had its turn, never surfaced to the dispatcher.
package fanout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/orbisoperations/catalyst/internal/dataplane"
	"github.com/orbisoperations/catalyst/internal/logging"
	"github.com/orbisoperations/catalyst/internal/metrics"
	"github.com/orbisoperations/catalyst/internal/rib"
	"github.com/orbisoperations/catalyst/internal/transport"
)

// Resolver looks up the transport that reaches a connected peer.
// *transport.Registry satisfies this; tests can supply a smaller fake.
type Resolver interface {
	Resolve(peerName string) (transport.PeerTransport, bool)
}

// Fanout sends a commit's propagations and snapshot to their
// destinations. A send failure is logged and does not affect any other
// peer's send, nor does it roll back the commit that already happened —
// the RIB's state is authoritative the instant commit returns.
type Fanout struct {
	resolver Resolver
	sink     dataplane.DataplaneSink
	logger   logging.Logger
}

// New constructs a Fanout over resolver and sink, logging through
// logger.
func New(resolver Resolver, sink dataplane.DataplaneSink, logger logging.Logger) *Fanout {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Fanout{resolver: resolver, sink: sink, logger: logger}
}

// Dispatch sends every propagation in result concurrently and applies
// its snapshot to the sink. It never returns an error to the caller —
// per-peer failures are logged, not propagated, since a fan-out failure
// must not unwind or retry the commit that already succeeded.
func (f *Fanout) Dispatch(ctx context.Context, result *rib.CommitResult) {
	if result == nil || result.NoOp {
		return
	}

	// A bare errgroup.Group, never errgroup.WithContext: WithContext's
	// derived context cancels as soon as the first Go func returns an
	// error, which would abort in-flight sends to unrelated peers. Every
	// peer's send must settle on its own, so each goroutine records its
	// own failure into errs rather than letting Wait's first-error return
	// stand in for the whole fan-out.
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	for _, prop := range result.Propagations {
		prop := prop
		g.Go(func() error {
			t, ok := f.resolver.Resolve(prop.PeerName)
			if !ok {
				f.logger.Warnw("fanout: no transport for peer", "peer", prop.PeerName)
				return nil
			}
			start := time.Now()
			err := t.Send(ctx, prop)
			metrics.FanoutSendDuration.WithLabelValues(prop.PeerName).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.FanoutSendFailuresTotal.WithLabelValues(prop.PeerName).Inc()
				mu.Lock()
				errs = multierr.Append(errs, &sendError{peer: prop.PeerName, err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, e := range multierr.Errors(errs) {
		f.logger.Errorw("fanout: propagation send failed", "error", e.Error())
	}

	if result.RoutesChanged && f.sink != nil {
		if err := f.sink.Apply(ctx, result.Snapshot); err != nil {
			f.logger.Errorw("fanout: dataplane apply failed", "error", err.Error())
		}
	}
}

type sendError struct {
	peer string
	err  error
}

func (e *sendError) Error() string {
	return "peer " + e.peer + ": " + e.err.Error()
}

func (e *sendError) Unwrap() error { return e.err }
