// Package dataplane defines how a commit's snapshot reaches the actual
// dataplane (an Envoy xDS server or equivalent). That wiring is out of
// scope here — DataplaneSink is the seam; this package ships only an
// in-memory stand-in that retains the latest snapshot, suitable for
// tests and for a single node with nothing to push to.
package dataplane

import (
	"context"
	"sync"

	"github.com/orbisoperations/catalyst/internal/rib"
)

// DataplaneSink receives the authoritative listener/cluster set after
// every commit that changed it.
type DataplaneSink interface {
	Apply(ctx context.Context, snap rib.DataplaneSnapshot) error
}

// Memory is a DataplaneSink that just remembers the latest snapshot.
type Memory struct {
	mu   sync.RWMutex
	last rib.DataplaneSnapshot
}

// NewMemory constructs an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Apply stores snap as the latest snapshot.
func (m *Memory) Apply(_ context.Context, snap rib.DataplaneSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = snap
	return nil
}

// Last returns the most recently applied snapshot.
func (m *Memory) Last() rib.DataplaneSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
