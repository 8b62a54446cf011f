package pipeline

import "sync/atomic"

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	FramesRead      uint64 // frames read from the capture
	FramesDropped   uint64 // frames rejected by a full queue
	FramesDequeued  uint64 // frames seen by the decimator counter
	FramesForwarded uint64 // frames handed to the detector
	DetectorErrors  uint64
	QueueLen        int
	QueueCap        int
}

type counters struct {
	read      atomic.Uint64
	dropped   atomic.Uint64
	dequeued  atomic.Uint64
	forwarded atomic.Uint64
	detErrors atomic.Uint64
}
