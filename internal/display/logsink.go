package display

import (
	"slices"
	"sync"

	"github.com/andresmejia3/skuscan/internal/sku"
	"github.com/andresmejia3/skuscan/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SnapshotLogger logs a snapshot whenever the set of detected labels changes.
type SnapshotLogger struct {
	mapping sku.Mapping

	mu   sync.Mutex
	last []string
	seen bool
}

func NewSnapshotLogger(m sku.Mapping) *SnapshotLogger {
	return &SnapshotLogger{mapping: m}
}

func (l *SnapshotLogger) AcceptSnapshot(s *types.Snapshot) {
	labels := s.Labels()
	slices.Sort(labels)
	labels = slices.Compact(labels)

	l.mu.Lock()
	changed := !l.seen || !slices.Equal(labels, l.last)
	l.last, l.seen = labels, true
	l.mu.Unlock()
	if !changed {
		return
	}

	items := l.mapping.Resolve(s.Detections)
	arr := zerolog.Arr()
	for _, it := range items {
		arr.Dict(zerolog.Dict().Str("label", it.Label).Int("sku", it.Code).Float64("conf", it.Confidence))
	}
	log.Info().Str("run_id", s.RunID).Uint64("seq", s.Seq).Array("detections", arr).Msg("detections changed")
}
