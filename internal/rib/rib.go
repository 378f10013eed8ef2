package rib

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/orbisoperations/catalyst/internal/action"
	"github.com/orbisoperations/catalyst/internal/portalloc"
	"github.com/orbisoperations/catalyst/internal/route"
)

// CommitResult is commit's effectful output: the peer-addressed updates
// the fan-out stage must send, the dataplane snapshot the sink must
// receive, and whether this commit actually changed anything observable
// (for the audit log's snapshot-version bookkeeping).
type CommitResult struct {
	Propagations   []Propagation
	Snapshot       DataplaneSnapshot
	RoutesChanged  bool
	SequenceNumber int64
	NoOp           bool
}

// RIB owns the single authoritative route.Table and the port allocator
// commit mutates alongside it. Callers are expected to serialize calls to
// Dispatch (the action queue's job); the mutex here exists so State
// and LocRib can be read safely from the admin HTTP server while a
// Dispatch is in flight, not to provide the queue's ordering guarantee
// itself.
type RIB struct {
	mu        sync.RWMutex
	cfg       Config
	state     route.Table
	locRib    map[route.Key]route.LocRibEntry
	allocator *portalloc.Allocator

	commitSeq       int64
	snapshotVersion int64
}

// New constructs an empty RIB for localNodeName, allocating egress and
// ingress ports from ranges. defaultHoldSeconds backstops any peer
// created without an explicit hold time.
func New(localNodeName string, defaultHoldSeconds int64, ranges []portalloc.Range) (*RIB, error) {
	alloc, err := portalloc.New(ranges)
	if err != nil {
		return nil, fmt.Errorf("rib: %w", err)
	}
	if defaultHoldSeconds <= 0 {
		defaultHoldSeconds = route.DefaultHoldTimeSeconds
	}
	return &RIB{
		cfg: Config{
			LocalNodeName:          localNodeName,
			DefaultHoldTimeSeconds: defaultHoldSeconds,
		},
		state:     route.New(),
		locRib:    map[route.Key]route.LocRibEntry{},
		allocator: alloc,
	}, nil
}

// State returns the current route table. The returned value shares
// backing slices with RIB's own state but, per route.Table's copy-on-write
// contract, those slices are only ever replaced, never mutated in place,
// so holding onto this value across a later Dispatch is safe.
func (r *RIB) State() route.Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// LocRib returns the current best-path decision for every route key.
func (r *RIB) LocRib() map[route.Key]route.LocRibEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[route.Key]route.LocRibEntry, len(r.locRib))
	for k, v := range r.locRib {
		out[k] = v
	}
	return out
}

// Dispatch validates act, plans it against the current state, and
// commits the result. now must be the caller's clock reading for this
// action (the tick driver passes the SystemTick payload's own Now; every
// other caller passes its current wall-clock reading), since plan never
// reads a clock itself.
func (r *RIB) Dispatch(now int64, act action.Action) (*CommitResult, error) {
	if err := act.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	plan, err := Plan(r.state, r.cfg, now, act)
	if err != nil {
		return nil, err
	}
	return r.commit(now, plan)
}

// commit applies plan's port operations, installs its state, and derives
// the propagations and snapshot that follow. Must be called with mu held.
func (r *RIB) commit(now int64, plan *PlanResult) (*CommitResult, error) {
	if plan.NoOp {
		return &CommitResult{NoOp: true, SequenceNumber: r.commitSeq}, nil
	}

	oldState := r.state

	releasedPorts := map[string]int{}
	for _, op := range plan.PortOps {
		if op.Op == OpRelease {
			if p, ok := r.allocator.PortFor(op.Key); ok {
				releasedPorts[op.Key] = p
			}
			r.allocator.Release(op.Key)
		}
	}

	var allocated []string
	var exhaustErr error
	for _, op := range plan.PortOps {
		if op.Op != OpAllocate {
			continue
		}
		if _, err := r.allocator.Allocate(op.Key); err != nil {
			exhaustErr = err
			break
		}
		allocated = append(allocated, op.Key)
	}

	if exhaustErr != nil {
		// Roll back: release what this attempt just allocated, then put
		// every released key back on the exact port it held, restoring the
		// allocator to how it looked before this commit was attempted.
		// Nothing can have raced in between: Dispatch holds r.mu for the
		// whole attempt.
		for _, k := range allocated {
			r.allocator.Release(k)
		}
		for k, p := range releasedPorts {
			if err := r.allocator.Reclaim(k, p); err != nil {
				return nil, fmt.Errorf("rib: commit rollback failed to reclaim %q: %w", k, err)
			}
		}
		return nil, fmt.Errorf("rib: commit: %w", exhaustErr)
	}

	newState := plan.NewState
	stampedLocal := make([]route.DataChannelDefinition, len(newState.Local.Routes))
	for i, d := range newState.Local.Routes {
		if p, ok := r.allocator.PortFor(ingressKey(d.Key())); ok {
			d.EnvoyPort = p
		}
		stampedLocal[i] = d
	}
	newState.Local.Routes = stampedLocal

	stampedMeta := make(map[route.Key]route.LocRibEntry, len(plan.RouteMetadata))
	for k, entry := range plan.RouteMetadata {
		if p, ok := r.allocator.PortFor(egressKey(k, entry.BestPath.PeerName)); ok {
			entry.BestPath.EnvoyPort = p
		}
		stampedMeta[k] = entry
	}

	routesChanged := len(plan.PortOps) > 0 ||
		!reflect.DeepEqual(buildSnapshot(oldState, r.locRib, 0), buildSnapshot(newState, stampedMeta, 0))
	if routesChanged {
		r.snapshotVersion++
	}

	r.state = newState
	r.locRib = stampedMeta
	r.commitSeq++

	propagations := computePropagations(r.cfg, oldState, newState)
	propagations = append(propagations, r.actionPropagations(plan)...)
	sort.SliceStable(propagations, func(i, j int) bool {
		return propagations[i].PeerName < propagations[j].PeerName
	})
	r.updateLastSent(now, propagations)
	snapshot := buildSnapshot(r.state, r.locRib, r.snapshotVersion)

	return &CommitResult{
		Propagations:   propagations,
		Snapshot:       snapshot,
		RoutesChanged:  routesChanged,
		SequenceNumber: r.commitSeq,
	}, nil
}

// actionPropagations builds the propagation kinds that aren't derivable
// from a before/after route diff alone: the reciprocal open
// plus full-table sync sent to a newly opened peer, the close sent to a
// peer this action closed, and the keepalives/expiry-closes plan.go
// identified while scanning hold timers on a Tick. Must be called with
// mu held and after r.state has been installed, so FindPeer sees the
// post-commit peer records.
func (r *RIB) actionPropagations(plan *PlanResult) []Propagation {
	var out []Propagation

	switch a := plan.SourceAction.(type) {
	case action.InternalProtocolOpen:
		peer := a.Peer()
		if rec, ok := r.state.FindPeer(peer.Name); ok {
			out = append(out, Propagation{Type: PropagationOpen, PeerName: peer.Name, Peer: rec.PeerInfo})
			out = append(out, fullSyncPropagation(r.cfg, r.state, peer.Name))
		}
	case action.InternalProtocolClose:
		peer := a.Peer()
		out = append(out, Propagation{
			Type:     PropagationClose,
			PeerName: peer.Name,
			Peer:     peer,
			Code:     a.Code,
			Reason:   a.Reason,
		})
	}

	for _, name := range plan.KeepaliveDue {
		if rec, ok := r.state.FindPeer(name); ok {
			out = append(out, Propagation{Type: PropagationKeepalive, PeerName: name, Peer: rec.PeerInfo})
		}
	}
	for _, name := range plan.ExpiredPeers {
		if rec, ok := r.state.FindPeer(name); ok {
			out = append(out, Propagation{
				Type:     PropagationClose,
				PeerName: name,
				Peer:     rec.PeerInfo,
				Reason:   "hold timer expired",
			})
		}
	}
	return out
}

// updateLastSent stamps LastSent = now on every peer this commit actually
// produced a propagation for, so the next Tick's
// keepalive-due scan measures the gap since our last send to that peer
// rather than since its session opened. Must be called with mu held,
// after r.state is the post-commit table.
func (r *RIB) updateLastSent(now int64, propagations []Propagation) {
	seen := make(map[string]bool, len(propagations))
	for _, p := range propagations {
		if seen[p.PeerName] {
			continue
		}
		seen[p.PeerName] = true
		if rec, ok := r.state.FindPeer(p.PeerName); ok {
			rec.LastSent = now
			r.state = r.state.WithPeerUpserted(rec)
		}
	}
}
