package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/logging"
)

// SnapshotKey is the blob store key holding the persisted queue.
const SnapshotKey = "syncqueue/snapshot"

const snapshotVersion = 1

// BlobStore is the narrow persistence collaborator the queue writes whole
// snapshots through. Satisfied by kvstore.Store.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Compressor compresses snapshots before they hit the blob store. Satisfied
// by codec.Codec.
type Compressor interface {
	Compress(data []byte) []byte
	Decompress(data []byte) ([]byte, error)
}

type snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Items   []*Item   `json:"items"`
}

// snapshotStore serializes, compresses, and persists queue snapshots.
// Persistence failures are logged and swallowed; the queue keeps operating
// in memory and accepts the documented data-loss risk on crash.
type snapshotStore struct {
	blobs  BlobStore
	comp   Compressor
	logger *slog.Logger
}

func newSnapshotStore(blobs BlobStore, comp Compressor, logger *slog.Logger) *snapshotStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &snapshotStore{
		blobs:  blobs,
		comp:   comp,
		logger: logging.WithComponent(logger, "syncqueue.store"),
	}
}

// load reads the persisted snapshot. A missing or corrupt snapshot yields an
// empty queue, never an error; corruption is logged so it is not hidden.
func (s *snapshotStore) load(ctx context.Context) []*Item {
	blob, ok, err := s.blobs.Get(ctx, SnapshotKey)
	if err != nil {
		s.logger.Warn("load queue snapshot failed; starting empty",
			logging.Error(err),
			logging.String(logging.FieldEventType, "snapshot_load_failed"),
			logging.String(logging.FieldErrorHint, "check the state database"),
		)
		return nil
	}
	if !ok {
		return nil
	}

	decoded, err := s.decode(blob)
	if err != nil {
		s.logger.Warn("queue snapshot is corrupt; starting empty",
			logging.Error(err),
			logging.String(logging.FieldEventType, "snapshot_corrupt"),
			logging.String(logging.FieldErrorHint, "the previous queue contents are lost"),
		)
		return nil
	}
	return decoded
}

func (s *snapshotStore) decode(blob []byte) ([]*Item, error) {
	raw, err := s.comp.Decompress(blob)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap.Items, nil
}

// save persists the full item list, replacing any prior snapshot. Errors are
// logged, not returned; in-memory operation continues regardless.
func (s *snapshotStore) save(ctx context.Context, items []*Item, now time.Time) {
	snap := snapshot{Version: snapshotVersion, SavedAt: now.UTC(), Items: items}
	raw, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("marshal queue snapshot failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "snapshot_marshal_failed"),
		)
		return
	}
	if err := s.blobs.Set(ctx, SnapshotKey, s.comp.Compress(raw)); err != nil {
		s.logger.Warn("persist queue snapshot failed; queue continues in memory",
			logging.Error(err),
			logging.String(logging.FieldEventType, "snapshot_save_failed"),
			logging.String(logging.FieldErrorHint, "unsynced items are lost if the process exits before the next successful save"),
		)
	}
}
