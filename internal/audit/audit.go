// Package audit appends one row per commit to a Postgres commit_log
// table, for operator forensics. It is a pure observer of
// rib.CommitResult values: the RIB never reads this table back
// (authoritative routing state is in-memory only), and a write failure
// here is logged, never fatal to the dispatch that produced the commit.
// The raw payload is zstd-compressed before storage.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"

	"github.com/orbisoperations/catalyst/internal/logging"
	"github.com/orbisoperations/catalyst/internal/metrics"
	"github.com/orbisoperations/catalyst/internal/rib"
)

// The conflict target must name the whole composite primary key:
// commit_log is partitioned by committed_at, so no unique constraint on
// commit_seq alone can exist.
const insertSQL = `
INSERT INTO commit_log (commit_seq, action_kind, payload, snapshot_version, committed_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (commit_seq, committed_at) DO NOTHING`

// payload is the JSON shape compressed and stored per row: the action
// tag that drove the commit and the propagations it produced. The plan's
// port operations are not stored.
type payload struct {
	ActionKind   string            `json:"action_kind"`
	Propagations []rib.Propagation `json:"propagations"`
}

// Writer appends commit_log rows. A nil pool (audit not configured) makes
// every Append a no-op, so callers don't need to branch on whether audit
// is enabled.
type Writer struct {
	pool    *pgxpool.Pool
	logger  logging.Logger
	encoder *zstd.Encoder
}

// New constructs a Writer over pool. pool may be nil, in which case
// Append always succeeds without doing anything (audit disabled).
func New(pool *pgxpool.Pool, logger logging.Logger) (*Writer, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	if pool == nil {
		return &Writer{logger: logger}, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("audit: zstd encoder init: %w", err)
	}
	return &Writer{pool: pool, logger: logger, encoder: enc}, nil
}

// Ping reports whether the underlying connection pool is reachable. A
// Writer constructed with a nil pool is always reachable trivially,
// matching the admin server's "no audit configured, skip the check"
// readiness semantics.
func (w *Writer) Ping(ctx context.Context) error {
	if w.pool == nil {
		return nil
	}
	return w.pool.Ping(ctx)
}

// Append stores one row describing result, produced by an action tagged
// actionKind. Failures are logged and swallowed: the audit log is a
// side-channel observer, never a gate on whether a commit succeeded.
func (w *Writer) Append(ctx context.Context, actionKind string, result *rib.CommitResult) {
	if w.pool == nil || result == nil || result.NoOp {
		return
	}

	body, err := json.Marshal(payload{ActionKind: actionKind, Propagations: result.Propagations})
	if err != nil {
		metrics.AuditWriteErrorsTotal.WithLabelValues().Inc()
		w.logger.Errorw("audit: marshaling commit payload failed", "error", err.Error())
		return
	}
	compressed := w.encoder.EncodeAll(body, nil)

	version := result.Snapshot.Version
	if !result.RoutesChanged {
		version = 0
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := w.pool.Exec(writeCtx, insertSQL, result.SequenceNumber, actionKind, compressed, version); err != nil {
		metrics.AuditWriteErrorsTotal.WithLabelValues().Inc()
		w.logger.Errorw("audit: commit_log insert failed", "error", err.Error(), "commit_seq", result.SequenceNumber)
	}
}
