// Package eventbus publishes one Kafka record per propagation and one
// per snapshot version a commit produces, so external observers can
// follow the mesh's route churn without polling the admin HTTP
// surface. Like internal/audit, it is a pure observer: a publish
// failure is logged and counted, never fed back into the commit that
// produced the event.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/orbisoperations/catalyst/internal/logging"
	"github.com/orbisoperations/catalyst/internal/metrics"
	"github.com/orbisoperations/catalyst/internal/rib"
)

// record is the JSON body published for a single propagation.
type record struct {
	PeerName        string          `json:"peer_name"`
	Type            rib.Propagation `json:"propagation"`
	SnapshotVersion int64           `json:"snapshot_version"`
}

// snapshotRecord is the JSON body published once per commit that
// changed the route table, independent of which peers it fanned out to.
type snapshotRecord struct {
	Version        int64 `json:"version"`
	SequenceNumber int64 `json:"sequence_number"`
}

// Publisher produces route-change events to a configured topic. A nil
// client (event bus not configured) makes every Publish a no-op.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger logging.Logger
}

// New constructs a Publisher over brokers, publishing to topic. If
// brokers is empty, the event bus is disabled and Publish is always a
// no-op.
func New(brokers []string, topic, clientID string, logger logging.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	if len(brokers) == 0 {
		return &Publisher{logger: logger}, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: client init: %w", err)
	}

	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// Close releases the underlying Kafka client, if one was created.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

// Ping reports whether the configured brokers are reachable. A
// Publisher constructed with no brokers is always reachable trivially,
// matching the admin server's "event bus not configured, skip the
// check" readiness semantics.
func (p *Publisher) Ping(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	return p.client.Ping(ctx)
}

// Publish emits one record per propagation in result, keyed by the
// destination peer name so a consumer can partition by peer, plus one
// snapshot record if the commit changed the route table. Never blocks
// the caller past a short produce timeout, and never returns an error:
// publish failures are logged and counted, matching internal/audit's
// post-commit error policy.
func (p *Publisher) Publish(ctx context.Context, result *rib.CommitResult) {
	if p.client == nil || result == nil || result.NoOp {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, prop := range result.Propagations {
		body, err := json.Marshal(record{
			PeerName:        prop.PeerName,
			Type:            prop,
			SnapshotVersion: result.Snapshot.Version,
		})
		if err != nil {
			metrics.EventBusPublishErrorsTotal.WithLabelValues().Inc()
			p.logger.Errorw("eventbus: marshaling propagation failed", "error", err.Error())
			continue
		}
		p.produce(ctx, []byte(prop.PeerName), body)
	}

	if result.RoutesChanged {
		body, err := json.Marshal(snapshotRecord{
			Version:        result.Snapshot.Version,
			SequenceNumber: result.SequenceNumber,
		})
		if err != nil {
			metrics.EventBusPublishErrorsTotal.WithLabelValues().Inc()
			p.logger.Errorw("eventbus: marshaling snapshot record failed", "error", err.Error())
			return
		}
		p.produce(ctx, nil, body)
	}
}

func (p *Publisher) produce(ctx context.Context, key, value []byte) {
	rec := &kgo.Record{Topic: p.topic, Key: key, Value: value}
	p.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			metrics.EventBusPublishErrorsTotal.WithLabelValues().Inc()
			p.logger.Errorw("eventbus: produce failed", "error", err.Error(), "topic", p.topic)
		}
	})
}
