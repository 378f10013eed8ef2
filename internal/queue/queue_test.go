package queue

import (
	"context"
	"testing"
	"time"

	"github.com/orbisoperations/catalyst/internal/action"
	"github.com/orbisoperations/catalyst/internal/clock"
	"github.com/orbisoperations/catalyst/internal/dataplane"
	"github.com/orbisoperations/catalyst/internal/fanout"
	"github.com/orbisoperations/catalyst/internal/portalloc"
	"github.com/orbisoperations/catalyst/internal/rib"
	"github.com/orbisoperations/catalyst/internal/transport"
)

func newTestQueue(t *testing.T) (*Queue, *dataplane.Memory) {
	t.Helper()
	r, err := rib.New("node-a", 60, []portalloc.Range{{Start: 10000, End: 10010}})
	if err != nil {
		t.Fatalf("rib.New: %v", err)
	}
	sink := dataplane.NewMemory()
	fo := fanout.New(transport.NewRegistry(), sink, nil)
	q := New(r, fo, clock.NewFake(1000), nil, 8)
	return q, sink
}

func TestQueueDispatchAppliesSnapshot(t *testing.T) {
	q, sink := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	res, err := q.Dispatch(ctx, action.LocalRouteCreate{
		Route: action.DataChannelPayload{Name: "books-api", Protocol: "http"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Snapshot.Version != 1 {
		t.Fatalf("expected snapshot version 1, got %d", res.Snapshot.Version)
	}
	if sink.Last().Version != 1 {
		t.Fatalf("expected the sink to observe version 1, got %d", sink.Last().Version)
	}
}

func TestQueueSurvivesAFailedDispatch(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	if _, err := q.Dispatch(ctx, action.LocalPeerUpdate{
		PeerInfo: action.PeerInfoPayload{Name: "node-b.example.local.io"},
	}); err == nil {
		t.Fatalf("expected updating an unknown peer to fail")
	}

	res, err := q.Dispatch(ctx, action.LocalRouteCreate{
		Route: action.DataChannelPayload{Name: "books-api", Protocol: "http"},
	})
	if err != nil {
		t.Fatalf("expected the queue to keep processing after a failed dispatch, got %v", err)
	}
	if res.Snapshot.Version != 1 {
		t.Fatalf("expected snapshot version 1, got %d", res.Snapshot.Version)
	}
}

func TestQueueObserverRunsOnSuccessfulCommit(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var gotKind string
	var gotSeq int64
	q.AddObserver(func(_ context.Context, actionKind string, res *rib.CommitResult) {
		gotKind = actionKind
		gotSeq = res.SequenceNumber
	})

	q.Start(ctx)
	defer q.Stop()

	res, err := q.Dispatch(ctx, action.LocalRouteCreate{
		Route: action.DataChannelPayload{Name: "books-api", Protocol: "http"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if gotKind != action.KindLocalRouteCreate {
		t.Errorf("expected observer to see kind %q, got %q", action.KindLocalRouteCreate, gotKind)
	}
	if gotSeq != res.SequenceNumber {
		t.Errorf("expected observer to see sequence number %d, got %d", res.SequenceNumber, gotSeq)
	}
}

func TestQueueObserverSkippedOnFailedDispatch(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	called := false
	q.AddObserver(func(_ context.Context, _ string, _ *rib.CommitResult) {
		called = true
	})

	q.Start(ctx)
	defer q.Stop()

	if _, err := q.Dispatch(ctx, action.LocalPeerUpdate{
		PeerInfo: action.PeerInfoPayload{Name: "node-b.example.local.io"},
	}); err == nil {
		t.Fatalf("expected updating an unknown peer to fail")
	}
	if called {
		t.Errorf("expected observer not to run on a failed dispatch")
	}
}

func TestQueueDispatchAtUsesGivenTimestamp(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	// The queue's fake clock reads 1000, so node-b's hold timer starts there.
	if _, err := q.Dispatch(ctx, action.InternalProtocolOpen{
		PeerInfo: action.PeerInfoPayload{Name: "node-b"},
	}); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Only a tick evaluated at the given 61001, not at the clock's 1000,
	// is past node-b's 60s hold time.
	res, err := q.DispatchAt(ctx, 61001, action.SystemTick{Now: 61001})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.NoOp {
		t.Fatalf("expected the tick at 61001 to expire node-b, got a no-op commit")
	}
}
