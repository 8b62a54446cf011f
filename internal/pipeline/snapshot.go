package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/andresmejia3/skuscan/internal/types"
)

// SnapshotStore holds the latest published detection snapshot.
// Replacement is a single pointer swap, so readers see either the old or the new value.
type SnapshotStore struct {
	cur atomic.Pointer[types.Snapshot]
}

// NewSnapshotStore starts with an empty snapshot.
func NewSnapshotStore() *SnapshotStore {
	s := &SnapshotStore{}
	s.cur.Store(&types.Snapshot{})
	return s
}

// Begin hands the store to runID and clears the previous snapshot.
// From then on only runID may publish.
func (s *SnapshotStore) Begin(runID string) {
	s.cur.Store(&types.Snapshot{RunID: runID})
}

// Publish copies the detections into a new snapshot and swaps it in. It returns nil
// and leaves the store untouched when another run owns the store.
func (s *SnapshotStore) Publish(runID string, seq uint64, dets types.Detections) *types.Snapshot {
	snap := &types.Snapshot{
		RunID:      runID,
		Seq:        seq,
		Detections: append(types.Detections(nil), dets...),
		At:         time.Now(),
	}
	for {
		cur := s.cur.Load()
		if cur.RunID != "" && cur.RunID != runID {
			return nil
		}
		if s.cur.CompareAndSwap(cur, snap) {
			return snap
		}
	}
}

// Reset replaces the current snapshot with an empty, unowned one.
func (s *SnapshotStore) Reset() {
	s.cur.Store(&types.Snapshot{})
}

// Load returns the current snapshot. Callers must treat it as read-only.
func (s *SnapshotStore) Load() *types.Snapshot {
	return s.cur.Load()
}
