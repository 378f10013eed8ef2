// Package transport defines how a commit's propagations reach a peer.
// The real wire protocol (how Catalyst nodes actually talk to each
// other) is out of scope for this repo — PeerTransport is the seam
// where it would plug in; this package only ships an in-memory stand-in
// suitable for tests and for running a single node locally.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/orbisoperations/catalyst/internal/rib"
)

// PeerTransport sends one Propagation to its addressed peer. Send should
// not block indefinitely; callers (internal/fanout) run every peer's
// Send concurrently and expect a well-behaved implementation to respect
// ctx cancellation.
type PeerTransport interface {
	Send(ctx context.Context, p rib.Propagation) error
}

// Recorder is an in-memory PeerTransport that appends every propagation
// it receives, for assertions in tests and for a single local node with
// no real peers to talk to.
type Recorder struct {
	mu  sync.Mutex
	out []rib.Propagation
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records p and always succeeds.
func (r *Recorder) Send(_ context.Context, p rib.Propagation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, p)
	return nil
}

// Sent returns a copy of every propagation recorded so far, in the order
// Send was called.
func (r *Recorder) Sent() []rib.Propagation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rib.Propagation, len(r.out))
	copy(out, r.out)
	return out
}

// Failing is a PeerTransport that always fails, for exercising
// internal/fanout's partial-failure handling.
type Failing struct {
	Err error
}

// Send always returns f.Err (or a default error if unset).
func (f Failing) Send(_ context.Context, p rib.Propagation) error {
	if f.Err != nil {
		return f.Err
	}
	return fmt.Errorf("transport: send to %s failed", p.PeerName)
}

// Registry resolves a connected peer's name to the PeerTransport that
// reaches it. Entries change only through Register and Remove; committing
// an InternalProtocolOpen or Close does not add or drop one.
// internal/fanout only ever reads it.
type Registry struct {
	mu     sync.RWMutex
	byPeer map[string]PeerTransport
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byPeer: make(map[string]PeerTransport)}
}

// Register associates peerName with t, replacing any existing entry.
func (r *Registry) Register(peerName string, t PeerTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPeer[peerName] = t
}

// Remove drops peerName's transport, if any.
func (r *Registry) Remove(peerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPeer, peerName)
}

// Resolve looks up peerName's transport.
func (r *Registry) Resolve(peerName string) (PeerTransport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byPeer[peerName]
	return t, ok
}
