package types

import (
	"image"
	"time"
)

// Frame is a single decoded video frame. Seq is assigned by the frame source at read time
// and is strictly increasing within a run. The image must not be mutated once the frame
// has been handed to the queue.
type Frame struct {
	Seq       uint64
	Image     *image.RGBA
	Timestamp time.Time
}

// Detection is a single object found by a detector
type Detection struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"` // [0, 1]
	Box        image.Rectangle `json:"box"`
}

// Detections is the ordered detector output for one frame
type Detections []Detection

// Snapshot is the detection outcome of the most recently processed sampled frame.
// Published snapshots are immutable: readers may hold on to them but never modify them.
type Snapshot struct {
	RunID      string
	Seq        uint64
	Detections Detections
	At         time.Time
}

// Labels returns the detection labels in detector order
func (s *Snapshot) Labels() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.Detections))
	for i, d := range s.Detections {
		out[i] = d.Label
	}
	return out
}
