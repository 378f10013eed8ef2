// Package rib implements the routing information base: a pure plan() that
// turns one Action plus the current route.Table into a proposed next
// state and the port operations it requires, and an effectful commit()
// that applies those operations against the port allocator, installs the
// new state, and derives the peer propagations and dataplane snapshot
// that follow from it. plan never touches the allocator, a clock, or any
// other collaborator, so it is trivially safe to call from a test with
// no mocks.
package rib

import (
	"fmt"

	"github.com/orbisoperations/catalyst/internal/action"
	"github.com/orbisoperations/catalyst/internal/route"
)

// Config is the static, per-node configuration plan needs to evaluate an
// action: its own identity (for loop detection and re-advertisement
// prepending) and the hold time assigned to peers that don't specify one.
type Config struct {
	LocalNodeName          string
	DefaultHoldTimeSeconds int64
}

// PortOpKind distinguishes releasing a port-allocator key from claiming
// one.
type PortOpKind int

const (
	OpRelease PortOpKind = iota
	OpAllocate
)

func (k PortOpKind) String() string {
	if k == OpRelease {
		return "release"
	}
	return "allocate"
}

// PortOp is one allocator operation commit must apply, always ordered so
// every release in a Plan precedes every allocate — freeing a range slot
// before claiming a new one lets the same numeric port be reused within a
// single commit.
type PortOp struct {
	Op  PortOpKind
	Key string
}

// PlanResult is plan's pure output: the proposed next state, the port
// operations commit must apply to reach it, the best-path decisions in
// that next state (ports not yet stamped), and the bookkeeping commit
// needs to derive propagations for tick-driven side effects that aren't
// visible from a state diff alone (which peers expired, which are due a
// keepalive).
type PlanResult struct {
	NewState      route.Table
	PortOps       []PortOp
	RouteMetadata map[route.Key]route.LocRibEntry
	NoOp          bool
	ExpiredPeers  []string
	KeepaliveDue  []string
	SourceAction  action.Action
}

// Plan evaluates act against state and returns the next state plus the
// port operations required to reach it. now is supplied by the caller
// (the action queue reads the clock once per dispatch) rather than read
// here, so plan stays a pure function of its arguments — it must not
// call the allocator, a transport, or a clock itself.
func Plan(state route.Table, cfg Config, now int64, act action.Action) (*PlanResult, error) {
	var (
		newState     = state
		ingressOps   []PortOp
		noOp         bool
		expired      []string
		keepaliveDue []string
	)

	switch a := act.(type) {
	case action.LocalPeerCreate:
		peer := a.Peer()
		if _, ok := state.FindPeer(peer.Name); ok {
			return nil, fmt.Errorf("plan: peer %q: %w", peer.Name, ErrDuplicatePeer)
		}
		rec := route.PeerRecord{
			PeerInfo:         peer,
			ConnectionStatus: route.StatusInitializing,
			HoldTime:         cfg.DefaultHoldTimeSeconds,
		}
		newState = state.WithPeerUpserted(rec)

	case action.LocalPeerUpdate:
		peer := a.Peer()
		existing, ok := state.FindPeer(peer.Name)
		if !ok {
			return nil, fmt.Errorf("plan: peer %q: %w", peer.Name, ErrUnknownPeer)
		}
		existing.PeerInfo = peer
		newState = state.WithPeerUpserted(existing)

	case action.LocalPeerDelete:
		if _, ok := state.FindPeer(a.Name); !ok {
			noOp = true
			break
		}
		withoutRoutes, _ := state.WithRoutesRemovedForPeer(a.Name)
		newState = withoutRoutes.WithPeerRemoved(a.Name)

	case action.LocalRouteCreate:
		dcd := a.DataChannel()
		newState = state.WithLocalUpserted(dcd)
		ingressOps = append(ingressOps, PortOp{Op: OpAllocate, Key: ingressKey(dcd.Key())})

	case action.LocalRouteDelete:
		key := a.Key()
		var existed bool
		newState, existed = state.WithLocalRemoved(key)
		if existed {
			ingressOps = append(ingressOps, PortOp{Op: OpRelease, Key: ingressKey(key)})
		} else {
			noOp = true
		}

	case action.InternalProtocolOpen:
		peer := a.Peer()
		rec, ok := state.FindPeer(peer.Name)
		if !ok {
			rec = route.PeerRecord{HoldTime: cfg.DefaultHoldTimeSeconds}
		}
		rec.PeerInfo = peer
		rec.ConnectionStatus = route.StatusConnected
		rec.LastConnected = now
		rec.LastReceived = now
		rec.LastSent = now
		if rec.HoldTime == 0 {
			rec.HoldTime = cfg.DefaultHoldTimeSeconds
		}
		newState = state.WithPeerUpserted(rec)

	case action.InternalProtocolConnected:
		rec, ok := state.FindPeer(a.Name)
		if !ok {
			return nil, fmt.Errorf("plan: peer %q: %w", a.Name, ErrUnknownPeer)
		}
		rec.ConnectionStatus = route.StatusConnected
		rec.LastReceived = now
		newState = state.WithPeerUpserted(rec)

	case action.InternalProtocolUpdate:
		peer := a.Peer()
		rec, ok := state.FindPeer(peer.Name)
		if !ok {
			return nil, fmt.Errorf("plan: peer %q: %w", peer.Name, ErrUnknownPeer)
		}
		rec.LastReceived = now
		newState = state.WithPeerUpserted(rec)

		for _, upd := range a.Updates {
			nodePath := upd.NodePath
			if len(nodePath) == 0 {
				nodePath = []string{peer.Name}
			}
			if route.ContainsNode(nodePath, cfg.LocalNodeName) {
				continue // loop: this update has already traversed the local node
			}
			dcd := upd.Route.ToDataChannelDefinition()
			switch upd.Action {
			case "add":
				newState = newState.WithInternalUpserted(route.InternalRoute{
					DataChannelDefinition: dcd,
					Peer:                  peer,
					PeerName:              peer.Name,
					NodePath:              nodePath,
				})
			case "remove":
				newState, _ = newState.WithInternalRemoved(peer.Name, dcd.Key())
			}
		}

	case action.InternalProtocolClose:
		peer := a.Peer()
		if _, ok := state.FindPeer(peer.Name); !ok {
			noOp = true
			break
		}
		withoutRoutes, _ := state.WithRoutesRemovedForPeer(peer.Name)
		rec, _ := withoutRoutes.FindPeer(peer.Name)
		rec.ConnectionStatus = route.StatusClosed
		newState = withoutRoutes.WithPeerUpserted(rec)

	case action.SystemTick:
		newState, expired, keepaliveDue = planTick(state, now)
		noOp = len(expired) == 0 && len(keepaliveDue) == 0

	default:
		return nil, fmt.Errorf("plan: %w: %q", ErrUnhandledAction, act.Kind())
	}

	ops := orderPortOps(append(ingressOps, diffEgressPortOps(state, newState)...))
	return &PlanResult{
		NewState:      newState,
		PortOps:       ops,
		RouteMetadata: computeLocRib(newState),
		NoOp:          noOp,
		ExpiredPeers:  expired,
		KeepaliveDue:  keepaliveDue,
		SourceAction:  act,
	}, nil
}

// planTick applies hold-timer expiry to every connected peer, then scans
// the survivors for peers due a keepalive. Strict greater-than: a gap of
// exactly holdTime*1000ms does not expire a peer, one millisecond more
// does.
func planTick(state route.Table, now int64) (route.Table, []string, []string) {
	newState := state
	var expired []string
	for _, p := range state.Internal.Peers {
		if p.ConnectionStatus != route.StatusConnected {
			continue
		}
		holdMillis := p.HoldTime * 1000
		if now-p.LastReceived <= holdMillis {
			continue
		}
		withoutRoutes, _ := newState.WithRoutesRemovedForPeer(p.Name)
		rec := p
		rec.ConnectionStatus = route.StatusClosed
		newState = withoutRoutes.WithPeerUpserted(rec)
		expired = append(expired, p.Name)
	}

	var keepaliveDue []string
	for _, p := range newState.Internal.Peers {
		if p.ConnectionStatus != route.StatusConnected {
			continue
		}
		keepaliveMillis := (p.HoldTime / 3) * 1000
		if now-p.LastSent > keepaliveMillis {
			keepaliveDue = append(keepaliveDue, p.Name)
		}
	}
	return newState, expired, keepaliveDue
}

// diffEgressPortOps compares the best path per route key before and
// after an action and emits the release/allocate pair needed to track a
// change of winning peer. A route key whose winner is unchanged emits
// nothing — re-running Allocate against an already-held key is a no-op
// anyway, but skipping it keeps Plan's output a faithful diff.
func diffEgressPortOps(oldState, newState route.Table) []PortOp {
	oldMeta := computeLocRib(oldState)
	newMeta := computeLocRib(newState)
	keys := unionKeys(oldState.RouteKeys(), newState.RouteKeys())

	var releases, allocates []PortOp
	for _, k := range keys {
		oldEntry, oldOk := oldMeta[k]
		newEntry, newOk := newMeta[k]
		var oldPeer, newPeer string
		if oldOk {
			oldPeer = oldEntry.BestPath.PeerName
		}
		if newOk {
			newPeer = newEntry.BestPath.PeerName
		}
		changed := oldPeer != newPeer
		if oldOk && (!newOk || changed) {
			releases = append(releases, PortOp{Op: OpRelease, Key: egressKey(k, oldPeer)})
		}
		if newOk && (!oldOk || changed) {
			allocates = append(allocates, PortOp{Op: OpAllocate, Key: egressKey(k, newPeer)})
		}
	}
	return append(releases, allocates...)
}

// orderPortOps stable-partitions ops into every release followed by
// every allocate, regardless of which branch above contributed them.
func orderPortOps(ops []PortOp) []PortOp {
	out := make([]PortOp, 0, len(ops))
	for _, op := range ops {
		if op.Op == OpRelease {
			out = append(out, op)
		}
	}
	for _, op := range ops {
		if op.Op == OpAllocate {
			out = append(out, op)
		}
	}
	return out
}
