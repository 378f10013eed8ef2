// Package portalloc implements the bijective key->port allocator the RIB's
// commit phase uses to stamp Envoy listener ports onto routes. Allocation
// is a deterministic lowest-free-port scan across configured ranges: no
// randomization, so two allocators fed the same sequence of
// Allocate/Release calls land on identical port assignments.
package portalloc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/orbisoperations/catalyst/internal/metrics"
)

// ErrPortExhausted is returned by Allocate when no free port remains in
// any configured range.
var ErrPortExhausted = errors.New("portalloc: no free port in configured ranges")

// Range is a closed interval [Start, End] of port numbers.
type Range struct {
	Start int
	End   int
}

func (r Range) validate() error {
	if r.Start <= 0 || r.End <= 0 {
		return fmt.Errorf("portalloc: range bounds must be positive, got [%d, %d]", r.Start, r.End)
	}
	if r.Start > r.End {
		return fmt.Errorf("portalloc: range start %d exceeds end %d", r.Start, r.End)
	}
	return nil
}

// Allocator maintains a bijection between opaque string keys and integers
// drawn from one or more configured ranges, walked in configuration order.
type Allocator struct {
	mu        sync.Mutex
	ranges    []Range
	keyToPort map[string]int
	portToKey map[int]string
}

// New constructs an Allocator over the given ranges, probed in the order
// given. It is an error to pass zero ranges or an invalid range.
func New(ranges []Range) (*Allocator, error) {
	if len(ranges) == 0 {
		return nil, errors.New("portalloc: at least one port range is required")
	}
	for _, r := range ranges {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	cp := make([]Range, len(ranges))
	copy(cp, ranges)
	return &Allocator{
		ranges:    cp,
		keyToPort: make(map[string]int),
		portToKey: make(map[int]string),
	}, nil
}

// Allocate returns the existing port for key if already mapped, otherwise
// the lowest free port across the configured ranges (in range order).
func (a *Allocator) Allocate(key string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.keyToPort[key]; ok {
		return p, nil
	}

	for _, r := range a.ranges {
		for p := r.Start; p <= r.End; p++ {
			if _, taken := a.portToKey[p]; !taken {
				a.keyToPort[key] = p
				a.portToKey[p] = key
				metrics.PortAllocationsTotal.WithLabelValues("ok").Inc()
				metrics.PortsInUse.WithLabelValues().Set(float64(len(a.keyToPort)))
				return p, nil
			}
		}
	}
	metrics.PortAllocationsTotal.WithLabelValues("exhausted").Inc()
	return 0, ErrPortExhausted
}

// Reclaim restores a specific key->port mapping, for callers unwinding a
// failed batch of operations that need a released key back on the exact
// port it held rather than whatever the lowest free port now is. Fails if
// the key or the port is already mapped elsewhere.
func (a *Allocator) Reclaim(key string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.keyToPort[key]; ok {
		if existing == port {
			return nil
		}
		return fmt.Errorf("portalloc: key %q already holds port %d", key, existing)
	}
	if holder, ok := a.portToKey[port]; ok {
		return fmt.Errorf("portalloc: port %d already held by key %q", port, holder)
	}
	a.keyToPort[key] = port
	a.portToKey[port] = key
	metrics.PortsInUse.WithLabelValues().Set(float64(len(a.keyToPort)))
	return nil
}

// Release removes key's mapping, if present. Idempotent.
func (a *Allocator) Release(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.keyToPort[key]
	if !ok {
		return
	}
	delete(a.keyToPort, key)
	delete(a.portToKey, p)
	metrics.PortsInUse.WithLabelValues().Set(float64(len(a.keyToPort)))
}

// PortFor looks up key's port without mutating allocator state. Safe to
// call concurrently with Allocate/Release (e.g. from an admin snapshot
// endpoint) — the queue already serializes mutation, this lock only
// protects readers racing with it.
func (a *Allocator) PortFor(key string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.keyToPort[key]
	return p, ok
}

// Len reports how many keys are currently allocated.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.keyToPort)
}

// Snapshot returns a copy of the current key->port assignments, for
// observability endpoints. The copy is a map, so its iteration order is
// not defined.
func (a *Allocator) Snapshot() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.keyToPort))
	for k, v := range a.keyToPort {
		out[k] = v
	}
	return out
}
