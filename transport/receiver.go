package transport

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/beamlab/beamcast"
	"github.com/beamlab/beamcast/internal/metrics"
	"github.com/beamlab/beamcast/wire"
)

const (
	// DefaultFrameTimeout is how long an incomplete frame may sit in the
	// pending table before it is evicted. Stale data is worse than a
	// momentarily frozen display.
	DefaultFrameTimeout = time.Second

	// DefaultMaxPending bounds the number of concurrently reassembling
	// frames. Beyond it the oldest pending frame is evicted: a frame this
	// far behind is no longer useful for a live view.
	DefaultMaxPending = 8
)

// Outcome classifies what a chunk arrival or housekeeping pass did. The
// render boundary needs the distinction between loss (TimedOut) and payload
// corruption (Discarded) to decide whether anything is actually wrong.
type Outcome int

const (
	// OutcomePending means the chunk was stored and its frame is still
	// incomplete.
	OutcomePending Outcome = iota
	// OutcomeCompleted means the chunk completed a frame that passed the
	// validity check.
	OutcomeCompleted
	// OutcomeDiscarded means the chunk completed a frame that failed the
	// validity check; the frame was dropped.
	OutcomeDiscarded
	// OutcomeRejected means the chunk itself was inconsistent with the
	// frame's bookkeeping and was ignored.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeRejected:
		return "rejected"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// CompletedFrame is a fully reassembled, validated frame ready for decode.
type CompletedFrame struct {
	FrameID uint32
	Payload []byte
}

// ReceiverStats is a snapshot of receiver counters, owned by the receive
// loop and exposed only through Snapshot.
type ReceiverStats struct {
	ChunksReceived  uint64
	DuplicateChunks uint64
	FramesCompleted uint64
	FramesDiscarded uint64
	FramesTimedOut  uint64
	FramesEvicted   uint64
	BytesReceived   uint64
	Pending         int
}

// pendingFrame accumulates the chunks of one in-flight frame id.
type pendingFrame struct {
	expected  uint32
	received  map[uint32][]byte
	bytes     int
	firstSeen time.Time
}

func (p *pendingFrame) complete() bool {
	return uint32(len(p.received)) == p.expected
}

func (p *pendingFrame) assemble() []byte {
	out := make([]byte, 0, p.bytes)
	for i := uint32(0); i < p.expected; i++ {
		out = append(out, p.received[i]...)
	}
	return out
}

type ReceiverOption func(*Receiver) error

func ReceiverFrameTimeout(d time.Duration) ReceiverOption {
	return func(r *Receiver) error {
		if d <= 0 {
			return fmt.Errorf("transport: invalid frame timeout: %v", d)
		}
		r.timeout = d
		return nil
	}
}

func ReceiverMaxPending(n int) ReceiverOption {
	return func(r *Receiver) error {
		if n < 1 {
			return fmt.Errorf("transport: invalid pending cap: %d", n)
		}
		r.maxPending = n
		return nil
	}
}

// ReceiverValidator replaces the structural payload check. The default
// accepts structurally plausible JPEG.
func ReceiverValidator(valid func([]byte) bool) ReceiverOption {
	return func(r *Receiver) error {
		r.valid = valid
		return nil
	}
}

func ReceiverMetrics(m *metrics.Metrics) ReceiverOption {
	return func(r *Receiver) error {
		r.metrics = m
		return nil
	}
}

func ReceiverLogger(log *slog.Logger) ReceiverOption {
	return func(r *Receiver) error {
		r.log = log
		return nil
	}
}

// Receiver reassembles chunked frames. It keeps a small bounded table of
// pending frames keyed by frame id and owns no socket: the receive loop
// feeds it parsed chunks and drives housekeeping via Tick. It is owned by a
// single loop and is not safe for concurrent use.
type Receiver struct {
	pending    map[uint32]*pendingFrame
	timeout    time.Duration
	maxPending int
	valid      func([]byte) bool
	log        *slog.Logger
	metrics    *metrics.Metrics
	stats      ReceiverStats
}

func NewReceiver(opts ...ReceiverOption) (*Receiver, error) {
	r := &Receiver{
		pending:    make(map[uint32]*pendingFrame),
		timeout:    DefaultFrameTimeout,
		maxPending: DefaultMaxPending,
		valid:      beamcast.ValidJPEG,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.log = r.log.With("component", "receiver")
	return r, nil
}

// OnChunk stores one chunk and reports what happened. When the chunk
// completes a valid frame, the frame is returned with OutcomeCompleted and
// its pending state is dropped. Duplicate chunks are idempotent.
func (r *Receiver) OnChunk(c wire.Chunk, now time.Time) (*CompletedFrame, Outcome) {
	p, ok := r.pending[c.FrameID]
	if !ok {
		r.evictOldest(now)
		p = &pendingFrame{
			expected:  c.Count,
			received:  make(map[uint32][]byte, c.Count),
			firstSeen: now,
		}
		r.pending[c.FrameID] = p
	}

	if c.Count != p.expected {
		// Chunk count must be constant across a frame. A mismatch means the
		// sender reused the id or the packet is corrupt; trust neither.
		r.log.Warn("chunk count mismatch, dropping pending frame",
			"frame_id", c.FrameID,
			"expected", p.expected,
			"got", c.Count,
		)
		delete(r.pending, c.FrameID)
		r.stats.FramesDiscarded++
		r.metrics.IncFramesDiscarded()
		return nil, OutcomeRejected
	}

	if _, dup := p.received[c.Index]; dup {
		r.stats.DuplicateChunks++
		r.metrics.IncDuplicateChunks()
	} else {
		p.bytes += len(c.Data)
	}
	p.received[c.Index] = c.Data
	r.stats.ChunksReceived++
	r.stats.BytesReceived += uint64(len(c.Data))
	r.metrics.IncChunksReceived()

	if !p.complete() {
		return nil, OutcomePending
	}

	payload := p.assemble()
	delete(r.pending, c.FrameID)

	if !r.valid(payload) {
		// Completed but corrupt: a different event from a timeout, because
		// it means payload damage rather than simple loss.
		r.stats.FramesDiscarded++
		r.metrics.IncFramesDiscarded()
		r.log.Warn("reassembled frame failed validity check",
			"frame_id", c.FrameID,
			"size", len(payload),
		)
		return nil, OutcomeDiscarded
	}

	r.stats.FramesCompleted++
	r.metrics.IncFramesCompleted()
	return &CompletedFrame{FrameID: c.FrameID, Payload: payload}, OutcomeCompleted
}

// Tick evicts pending frames older than the frame timeout and returns how
// many were dropped. Call it between reads, at least once per timeout
// interval.
func (r *Receiver) Tick(now time.Time) int {
	evicted := 0
	for id, p := range r.pending {
		if now.Sub(p.firstSeen) >= r.timeout {
			delete(r.pending, id)
			evicted++
			r.log.Debug("evicting incomplete frame",
				"frame_id", id,
				"have", len(p.received),
				"want", p.expected,
			)
		}
	}
	if evicted > 0 {
		r.stats.FramesTimedOut += uint64(evicted)
		r.metrics.AddFramesTimedOut(evicted)
	}
	return evicted
}

// evictOldest makes room for a new pending frame when the table is full.
func (r *Receiver) evictOldest(now time.Time) {
	if len(r.pending) < r.maxPending {
		return
	}
	var (
		oldestID uint32
		oldest   time.Time
		found    bool
	)
	for id, p := range r.pending {
		if !found || p.firstSeen.Before(oldest) {
			oldestID, oldest, found = id, p.firstSeen, true
		}
	}
	if found {
		delete(r.pending, oldestID)
		r.stats.FramesEvicted++
		r.stats.FramesTimedOut++
		r.metrics.AddFramesTimedOut(1)
		r.log.Debug("pending table full, evicting oldest frame", "frame_id", oldestID, "age", now.Sub(oldest))
	}
}

// LossRate estimates the fraction of frames that never completed, for the
// coarse FPS back-off on the sending side when a feedback path exists.
func (r *Receiver) LossRate() float64 {
	total := r.stats.FramesCompleted + r.stats.FramesDiscarded + r.stats.FramesTimedOut
	if total == 0 {
		return 0
	}
	return float64(r.stats.FramesDiscarded+r.stats.FramesTimedOut) / float64(total)
}

// Snapshot returns the receiver counters. Call it from the owning loop only.
func (r *Receiver) Snapshot() ReceiverStats {
	s := r.stats
	s.Pending = len(r.pending)
	return s
}
