package fanout

import (
	"context"
	"errors"
	"testing"

	"github.com/orbisoperations/catalyst/internal/dataplane"
	"github.com/orbisoperations/catalyst/internal/rib"
	"github.com/orbisoperations/catalyst/internal/transport"
)

func result(props ...rib.Propagation) *rib.CommitResult {
	return &rib.CommitResult{
		Propagations:  props,
		Snapshot:      rib.DataplaneSnapshot{Version: 7},
		RoutesChanged: true,
	}
}

func TestDispatchSendsToEveryPeer(t *testing.T) {
	reg := transport.NewRegistry()
	b := transport.NewRecorder()
	c := transport.NewRecorder()
	reg.Register("node-b", b)
	reg.Register("node-c", c)
	sink := dataplane.NewMemory()

	f := New(reg, sink, nil)
	f.Dispatch(context.Background(), result(
		rib.Propagation{Type: rib.PropagationUpdate, PeerName: "node-b"},
		rib.Propagation{Type: rib.PropagationKeepalive, PeerName: "node-c"},
	))

	if got := b.Sent(); len(got) != 1 || got[0].Type != rib.PropagationUpdate {
		t.Fatalf("expected node-b to receive one update, got %+v", got)
	}
	if got := c.Sent(); len(got) != 1 || got[0].Type != rib.PropagationKeepalive {
		t.Fatalf("expected node-c to receive one keepalive, got %+v", got)
	}
	if sink.Last().Version != 7 {
		t.Fatalf("expected the sink to observe snapshot version 7, got %d", sink.Last().Version)
	}
}

func TestDispatchOnePeerFailureDoesNotBlockOthers(t *testing.T) {
	reg := transport.NewRegistry()
	ok := transport.NewRecorder()
	reg.Register("node-b", transport.Failing{Err: errors.New("connection reset")})
	reg.Register("node-c", ok)

	f := New(reg, dataplane.NewMemory(), nil)
	f.Dispatch(context.Background(), result(
		rib.Propagation{Type: rib.PropagationUpdate, PeerName: "node-b"},
		rib.Propagation{Type: rib.PropagationUpdate, PeerName: "node-c"},
	))

	if got := ok.Sent(); len(got) != 1 {
		t.Fatalf("expected node-c's send to settle despite node-b failing, got %+v", got)
	}
}

func TestDispatchSkipsUnknownPeerAndNoOp(t *testing.T) {
	reg := transport.NewRegistry()
	sink := dataplane.NewMemory()
	f := New(reg, sink, nil)

	// No transport registered for node-b: logged, not fatal.
	f.Dispatch(context.Background(), result(
		rib.Propagation{Type: rib.PropagationUpdate, PeerName: "node-b"},
	))
	if sink.Last().Version != 7 {
		t.Fatalf("expected the snapshot to still apply, got version %d", sink.Last().Version)
	}

	f.Dispatch(context.Background(), &rib.CommitResult{NoOp: true, Snapshot: rib.DataplaneSnapshot{Version: 99}})
	if sink.Last().Version != 7 {
		t.Fatalf("expected a no-op commit to leave the sink untouched, got version %d", sink.Last().Version)
	}
}

func TestDispatchSkipsSinkWhenRoutesUnchanged(t *testing.T) {
	sink := dataplane.NewMemory()
	f := New(transport.NewRegistry(), sink, nil)

	f.Dispatch(context.Background(), &rib.CommitResult{
		Snapshot: rib.DataplaneSnapshot{Version: 3},
	})
	if sink.Last().Version != 0 {
		t.Fatalf("expected an unchanged-routes commit to skip the sink, got version %d", sink.Last().Version)
	}
}
