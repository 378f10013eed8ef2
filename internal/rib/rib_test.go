package rib

import (
	"errors"
	"sync"
	"testing"

	"github.com/orbisoperations/catalyst/internal/action"
	"github.com/orbisoperations/catalyst/internal/portalloc"
	"github.com/orbisoperations/catalyst/internal/route"
)

const localNode = "node-a"

func newTestRIB(t *testing.T) *RIB {
	t.Helper()
	r, err := New(localNode, 60, []portalloc.Range{{Start: 10000, End: 10100}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func connectPeer(t *testing.T, r *RIB, now int64, name string) {
	t.Helper()
	if _, err := r.Dispatch(now, action.InternalProtocolOpen{
		PeerInfo: action.PeerInfoPayload{Name: name},
	}); err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	if _, err := r.Dispatch(now, action.InternalProtocolConnected{Name: name}); err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
}

func advertise(t *testing.T, r *RIB, now int64, peer string, nodePath []string) {
	t.Helper()
	_, err := r.Dispatch(now, action.InternalProtocolUpdate{
		PeerInfo: action.PeerInfoPayload{Name: peer},
		Updates: []action.RouteUpdateItem{{
			Action:   "add",
			Route:    action.DataChannelPayload{Name: "books-api", Protocol: "http"},
			NodePath: nodePath,
		}},
	})
	if err != nil {
		t.Fatalf("advertise from %s: %v", peer, err)
	}
}

func TestAdvertiseThenWithdrawLocalRoute(t *testing.T) {
	r := newTestRIB(t)

	res, err := r.Dispatch(1000, action.LocalRouteCreate{
		Route: action.DataChannelPayload{Name: "books-api", Protocol: "http"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Snapshot.Listeners) != 1 || res.Snapshot.Listeners[0].Port != 10000 {
		t.Fatalf("expected one listener on port 10000, got %+v", res.Snapshot.Listeners)
	}
	if res.Snapshot.Version != 1 {
		t.Fatalf("expected snapshot version 1, got %d", res.Snapshot.Version)
	}
	if p, ok := r.allocator.PortFor("books-api"); !ok || p != 10000 {
		t.Fatalf("expected the allocator to map the route name to 10000, got %d, %v", p, ok)
	}

	res, err = r.Dispatch(2000, action.LocalRouteDelete{Name: "books-api", Protocol: "http"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.Snapshot.Listeners) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", res.Snapshot.Listeners)
	}
	if res.Snapshot.Version != 2 {
		t.Fatalf("expected snapshot version 2, got %d", res.Snapshot.Version)
	}
	if r.allocator.Len() != 0 {
		t.Fatalf("expected an empty allocator after withdrawal, got %d keys", r.allocator.Len())
	}
}

func TestLoopFiltering(t *testing.T) {
	r := newTestRIB(t)
	connectPeer(t, r, 1000, "node-b")

	res, err := r.Dispatch(1000, action.InternalProtocolUpdate{
		PeerInfo: action.PeerInfoPayload{Name: "node-b"},
		Updates: []action.RouteUpdateItem{{
			Action:   "add",
			Route:    action.DataChannelPayload{Name: "books-api", Protocol: "http"},
			NodePath: []string{"node-b", localNode},
		}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.RoutesChanged {
		t.Fatalf("expected a looped update to leave the dataplane-visible state unchanged, got %+v", res)
	}
	if _, ok := r.State().FindPeer("node-b"); !ok {
		t.Fatalf("expected peer node-b to still be known")
	}
	keys := r.State().RouteKeys()
	if len(keys) != 0 {
		t.Fatalf("expected the looped route to be dropped, got %v", keys)
	}
}

func TestThreeWayBestPathSelection(t *testing.T) {
	r := newTestRIB(t)
	connectPeer(t, r, 1000, "B")
	connectPeer(t, r, 1000, "C")
	connectPeer(t, r, 1000, "D")

	advertise(t, r, 1000, "B", []string{"B"})
	advertise(t, r, 1000, "C", []string{"C", "x"})
	res, err := r.Dispatch(1000, action.InternalProtocolUpdate{
		PeerInfo: action.PeerInfoPayload{Name: "D"},
		Updates: []action.RouteUpdateItem{{
			Action:   "add",
			Route:    action.DataChannelPayload{Name: "books-api", Protocol: "http"},
			NodePath: []string{"D", "x", "y"},
		}},
	})
	if err != nil {
		t.Fatalf("advertise D: %v", err)
	}
	_ = res

	entry, ok := r.LocRib()[route.Key{Name: "books-api", Protocol: route.ProtocolHTTP}]
	if !ok {
		t.Fatalf("expected a loc-rib entry for books-api")
	}
	if entry.BestPath.PeerName != "B" {
		t.Fatalf("expected best path via B, got %s", entry.BestPath.PeerName)
	}
	if len(entry.Alternatives) != 2 || entry.Alternatives[0].PeerName != "C" || entry.Alternatives[1].PeerName != "D" {
		t.Fatalf("expected alternatives [C, D], got %+v", entry.Alternatives)
	}
	if entry.SelectionReason != route.ReasonShortestPath {
		t.Fatalf("expected selection reason %q, got %q", route.ReasonShortestPath, entry.SelectionReason)
	}
	if _, ok := r.allocator.PortFor("egress_books-api_via_B"); !ok {
		t.Fatalf("expected an egress port keyed to the winning peer, allocator has %v", r.allocator.Snapshot())
	}
	if _, ok := r.allocator.PortFor("egress_books-api_via_C"); ok {
		t.Fatalf("alternatives must not hold egress ports, allocator has %v", r.allocator.Snapshot())
	}
}

func TestBestPathPromotionAfterWithdrawal(t *testing.T) {
	r := newTestRIB(t)
	connectPeer(t, r, 1000, "B")
	connectPeer(t, r, 1000, "C")

	advertise(t, r, 1000, "B", []string{"B"})
	advertise(t, r, 1000, "C", []string{"C", "x"})

	key := route.Key{Name: "books-api", Protocol: route.ProtocolHTTP}
	if entry := r.LocRib()[key]; entry.BestPath.PeerName != "B" {
		t.Fatalf("expected B to be best before withdrawal, got %s", entry.BestPath.PeerName)
	}

	res, err := r.Dispatch(1000, action.InternalProtocolClose{
		PeerInfo: action.PeerInfoPayload{Name: "B"},
		Code:     1,
	})
	if err != nil {
		t.Fatalf("close B: %v", err)
	}
	if res.NoOp {
		t.Fatalf("expected close of the best-path peer to change the route table")
	}

	entry, ok := r.LocRib()[key]
	if !ok {
		t.Fatalf("expected C to have been promoted to best path")
	}
	if entry.BestPath.PeerName != "C" {
		t.Fatalf("expected C promoted to best path, got %s", entry.BestPath.PeerName)
	}

	foundAdd := false
	for _, prop := range res.Propagations {
		if prop.PeerName != "C" {
			continue
		}
		for _, u := range prop.Updates {
			if u.Action == "add" && u.Route.Name == "books-api" {
				foundAdd = true
			}
		}
	}
	if foundAdd {
		t.Fatalf("C should never be re-advertised its own best path")
	}
}

func TestSameWinnerWithNewPathIsReadvertised(t *testing.T) {
	r := newTestRIB(t)
	connectPeer(t, r, 1000, "B")
	connectPeer(t, r, 1000, "C")

	advertise(t, r, 1000, "B", []string{"B"})

	res, err := r.Dispatch(1000, action.InternalProtocolUpdate{
		PeerInfo: action.PeerInfoPayload{Name: "B"},
		Updates: []action.RouteUpdateItem{{
			Action:   "add",
			Route:    action.DataChannelPayload{Name: "books-api", Protocol: "http"},
			NodePath: []string{"B", "x"},
		}},
	})
	if err != nil {
		t.Fatalf("re-advertise from B: %v", err)
	}

	var sawNewPath bool
	for _, p := range res.Propagations {
		if p.PeerName != "C" {
			continue
		}
		for _, u := range p.Updates {
			if u.Action == "add" && u.Route.Name == "books-api" &&
				len(u.NodePath) == 3 && u.NodePath[0] == localNode && u.NodePath[1] == "B" && u.NodePath[2] == "x" {
				sawNewPath = true
			}
		}
	}
	if !sawNewPath {
		t.Fatalf("expected C to receive the winner's new path, got %+v", res.Propagations)
	}
}

func TestHoldTimerExpiryExactBoundary(t *testing.T) {
	r := newTestRIB(t)
	const t0 = int64(1_000_000)
	connectPeer(t, r, t0, "B")

	if _, err := r.Dispatch(t0+60000, action.SystemTick{Now: t0 + 60000}); err != nil {
		t.Fatalf("tick: %v", err)
	}
	rec, ok := r.State().FindPeer("B")
	if !ok || rec.ConnectionStatus != route.StatusConnected {
		t.Fatalf("expected B to still be connected at T0+60000, got %+v", rec)
	}

	res, err := r.Dispatch(t0+60001, action.SystemTick{Now: t0 + 60001})
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.NoOp {
		t.Fatalf("expected expiry one millisecond past the hold time boundary")
	}
	rec, ok = r.State().FindPeer("B")
	if !ok || rec.ConnectionStatus != route.StatusClosed {
		t.Fatalf("expected B to be closed at T0+60001, got %+v", rec)
	}
}

func TestConcurrentDispatchIsSerialized(t *testing.T) {
	r := newTestRIB(t)
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			_, err := r.Dispatch(int64(i), action.LocalRouteCreate{
				Route: action.DataChannelPayload{Name: "svc-" + name, Protocol: "http"},
			})
			if err != nil {
				t.Errorf("dispatch %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(r.State().Local.Routes); got != n {
		t.Fatalf("expected %d local routes, got %d", n, got)
	}
}

func TestOpenProducesReciprocalOpenAndFullSync(t *testing.T) {
	r := newTestRIB(t)
	if _, err := r.Dispatch(1000, action.LocalRouteCreate{
		Route: action.DataChannelPayload{Name: "books-api", Protocol: "http"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := r.Dispatch(1000, action.InternalProtocolOpen{
		PeerInfo: action.PeerInfoPayload{Name: "node-b"},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var sawOpen, sawSync bool
	for _, p := range res.Propagations {
		if p.PeerName != "node-b" {
			continue
		}
		switch p.Type {
		case PropagationOpen:
			sawOpen = true
		case PropagationUpdate:
			sawSync = true
			if len(p.Updates) != 1 || p.Updates[0].Route.Name != "books-api" {
				t.Fatalf("expected full sync to carry books-api, got %+v", p.Updates)
			}
		}
	}
	if !sawOpen {
		t.Fatalf("expected a reciprocal open propagation, got %+v", res.Propagations)
	}
	if !sawSync {
		t.Fatalf("expected a full-table sync update propagation, got %+v", res.Propagations)
	}
	rec, ok := r.State().FindPeer("node-b")
	if !ok || rec.ConnectionStatus != route.StatusConnected {
		t.Fatalf("expected the opened peer to be connected, got %+v", rec)
	}
}

func TestCloseProducesCloseTypePropagation(t *testing.T) {
	r := newTestRIB(t)
	connectPeer(t, r, 1000, "node-b")

	res, err := r.Dispatch(1000, action.InternalProtocolClose{
		PeerInfo: action.PeerInfoPayload{Name: "node-b"},
		Code:     2,
		Reason:   "administrative shutdown",
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	var found bool
	for _, p := range res.Propagations {
		if p.PeerName == "node-b" && p.Type == PropagationClose {
			found = true
			if p.Code != 2 || p.Reason != "administrative shutdown" {
				t.Fatalf("unexpected close propagation: %+v", p)
			}
		}
	}
	if !found {
		t.Fatalf("expected a close propagation to node-b, got %+v", res.Propagations)
	}
}

func TestTickEmitsKeepaliveAndExpiryClose(t *testing.T) {
	r := newTestRIB(t)
	const t0 = int64(1_000_000)
	connectPeer(t, r, t0, "node-b")

	keepaliveAt := t0 + 20001 // holdTime 60s, keepalive at 1/3 = 20s
	res, err := r.Dispatch(keepaliveAt, action.SystemTick{Now: keepaliveAt})
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	var sawKeepalive bool
	for _, p := range res.Propagations {
		if p.PeerName == "node-b" && p.Type == PropagationKeepalive {
			sawKeepalive = true
		}
	}
	if !sawKeepalive {
		t.Fatalf("expected a keepalive propagation at T0+20001, got %+v", res.Propagations)
	}

	expireAt := t0 + 60001
	res, err = r.Dispatch(expireAt, action.SystemTick{Now: expireAt})
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	var sawClose bool
	for _, p := range res.Propagations {
		if p.PeerName == "node-b" && p.Type == PropagationClose {
			sawClose = true
		}
	}
	if !sawClose {
		t.Fatalf("expected a close propagation for the expired peer, got %+v", res.Propagations)
	}
}

func TestDuplicatePeerCreateFails(t *testing.T) {
	r := newTestRIB(t)
	if _, err := r.Dispatch(1000, action.LocalPeerCreate{PeerInfo: action.PeerInfoPayload{Name: "node-b.example.local.io"}}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := r.Dispatch(1000, action.LocalPeerCreate{PeerInfo: action.PeerInfoPayload{Name: "node-b.example.local.io"}})
	if !errors.Is(err, ErrDuplicatePeer) {
		t.Fatalf("expected ErrDuplicatePeer, got %v", err)
	}
}

func TestLocalRouteDeleteOfMissingRouteIsIdempotent(t *testing.T) {
	r := newTestRIB(t)
	res, err := r.Dispatch(1000, action.LocalRouteDelete{Name: "books-api", Protocol: "http"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NoOp {
		t.Fatalf("expected deleting a missing route to be a no-op, got %+v", res)
	}
}

func TestPortExhaustionAbortsCommitAndRestoresAllocator(t *testing.T) {
	r, err := New(localNode, 60, []portalloc.Range{{Start: 10000, End: 10000}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Dispatch(1000, action.LocalRouteCreate{
		Route: action.DataChannelPayload{Name: "books-api", Protocol: "http"},
	}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err = r.Dispatch(1000, action.LocalRouteCreate{
		Route: action.DataChannelPayload{Name: "orders-api", Protocol: "http"},
	})
	if !errors.Is(err, ErrPortExhausted) {
		t.Fatalf("expected ErrPortExhausted, got %v", err)
	}
	if _, ok := r.State().FindLocal(route.Key{Name: "orders-api", Protocol: route.ProtocolHTTP}); ok {
		t.Fatalf("orders-api should not have been installed after a failed commit")
	}
	dcd, ok := r.State().FindLocal(route.Key{Name: "books-api", Protocol: route.ProtocolHTTP})
	if !ok || dcd.EnvoyPort != 10000 {
		t.Fatalf("expected books-api to keep its port after the failed second commit, got %+v", dcd)
	}
}
