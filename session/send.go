// Package session runs the per-role streaming loops: a capture/send loop on
// the sharing machine and a receive/reassembly loop on each viewer. Each
// loop exclusively owns its pipeline state and publishes progress only
// through periodic snapshots, so no locks guard the hot path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beamlab/beamcast"
	"github.com/beamlab/beamcast/capture"
	"github.com/beamlab/beamcast/internal/metrics"
	"github.com/beamlab/beamcast/transport"
)

// ErrStreamStopped marks the fatal escalation of repeated failures: the
// stream is over and the caller must surface an explicit "stream stopped"
// state instead of a silent freeze.
var ErrStreamStopped = errors.New("session: stream stopped")

const (
	// DefaultFailureThreshold is the number of consecutive failed cycles
	// (capture, encode or send) after which the send loop gives up.
	DefaultFailureThreshold = 10

	// DefaultStatsInterval is how often the loops log a stats snapshot.
	DefaultStatsInterval = 5 * time.Second

	// lossWindow is how many recent frame sends feed the loss estimate
	// handed to the pacer.
	lossWindow = 32
)

// SendStats is a point-in-time snapshot of the send loop.
type SendStats struct {
	SessionID       string
	Backend         string
	TargetFPS       int
	ActualFPS       float64
	FramesCaptured  uint64
	CaptureFailures uint64
	EncodeFailures  uint64
	LossRate        float64
	Sender          transport.SenderStats
}

type SendOption func(*SendSession) error

func SendFailureThreshold(n int) SendOption {
	return func(s *SendSession) error {
		if n < 1 {
			return fmt.Errorf("session: invalid failure threshold: %d", n)
		}
		s.failureThreshold = n
		return nil
	}
}

func SendStatsInterval(d time.Duration) SendOption {
	return func(s *SendSession) error {
		if d <= 0 {
			return fmt.Errorf("session: invalid stats interval: %v", d)
		}
		s.statsInterval = d
		return nil
	}
}

func SendMetrics(m *metrics.Metrics) SendOption {
	return func(s *SendSession) error {
		s.metrics = m
		return nil
	}
}

func SendLogger(log *slog.Logger) SendOption {
	return func(s *SendSession) error {
		s.log = log
		return nil
	}
}

// SendSession drives capture → encode → transmit at the pacer's rate on a
// single goroutine. Transient failures are absorbed and counted; consecutive
// failures past the threshold end the session with ErrStreamStopped.
type SendSession struct {
	id     string
	src    *capture.Source
	enc    beamcast.Encoder
	sender *transport.Sender
	pacer  *beamcast.AdaptivePacer

	log              *slog.Logger
	metrics          *metrics.Metrics
	failureThreshold int
	statsInterval    time.Duration

	// Loop-owned state.
	framesCaptured  uint64
	captureFailures uint64
	encodeFailures  uint64
	consecFailures  int
	sendResults     [lossWindow]bool
	sendResultIdx   int
	sendResultN     int

	// Snapshot published once per cycle for other goroutines (stats API).
	snapMu sync.Mutex
	snap   SendStats
}

func NewSendSession(src *capture.Source, enc beamcast.Encoder, sender *transport.Sender, pacer *beamcast.AdaptivePacer, opts ...SendOption) (*SendSession, error) {
	s := &SendSession{
		id:               uuid.NewString(),
		src:              src,
		enc:              enc,
		sender:           sender,
		pacer:            pacer,
		log:              slog.Default(),
		failureThreshold: DefaultFailureThreshold,
		statsInterval:    DefaultStatsInterval,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.log = s.log.With("component", "send-session", "session", s.id)
	s.publish()
	return s, nil
}

func (s *SendSession) ID() string {
	return s.id
}

// Run blocks until the context is cancelled or the failure threshold is
// crossed. Cancellation is a clean stop and returns nil.
func (s *SendSession) Run(ctx context.Context) error {
	s.log.Info("send session starting", "backend", s.src.BackendName(), "target_fps", s.pacer.TargetFPS())
	defer s.log.Info("send session stopped")

	lastStats := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}

		if !s.pacer.ShouldCapture() {
			if !s.sleep(ctx, s.pacer.TimeUntilNext()) {
				return nil
			}
			continue
		}

		start := time.Now()
		if err := s.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrStreamStopped) || errors.Is(err, transport.ErrTooManyFailures) {
				s.log.Error("stream stopped", "error", err)
				return err
			}
			s.log.Warn("cycle failed", "error", err, "consecutive", s.consecFailures)
		}

		s.pacer.RecordCycle(time.Since(start), s.lossRate())
		s.metrics.SetTargetFPS(s.pacer.TargetFPS())
		s.publish()

		if time.Since(lastStats) >= s.statsInterval {
			lastStats = time.Now()
			st := s.sender.Snapshot()
			s.log.Info("send stats",
				"frames_sent", st.FramesSent,
				"chunks_sent", st.ChunksSent,
				"send_errors", st.SendErrors,
				"target_fps", s.pacer.TargetFPS(),
				"actual_fps", fmt.Sprintf("%.1f", s.pacer.ActualFPS()),
				"loss", fmt.Sprintf("%.2f", s.lossRate()),
			)
		}
	}
}

// cycle performs one capture-encode-send pass.
func (s *SendSession) cycle(ctx context.Context) error {
	raw, err := s.src.Capture(ctx)
	if err != nil {
		s.captureFailures++
		s.metrics.IncCaptureFailures()
		return s.fail(fmt.Errorf("capture: %w", err))
	}
	s.framesCaptured++
	s.metrics.IncFramesCaptured()

	payload, err := s.enc.Encode(raw)
	if err != nil {
		s.encodeFailures++
		return s.fail(fmt.Errorf("encode: %w", err))
	}

	if _, err := s.sender.SendFrame(ctx, payload); err != nil {
		if errors.Is(err, transport.ErrTooManyFailures) {
			return err
		}
		s.recordSend(false)
		return s.fail(fmt.Errorf("send: %w", err))
	}

	s.recordSend(true)
	s.consecFailures = 0
	return nil
}

// fail counts one failed cycle and escalates past the threshold.
func (s *SendSession) fail(err error) error {
	s.consecFailures++
	if s.consecFailures >= s.failureThreshold {
		return fmt.Errorf("%w: %d consecutive failures, last: %v", ErrStreamStopped, s.consecFailures, err)
	}
	return err
}

func (s *SendSession) recordSend(ok bool) {
	s.sendResults[s.sendResultIdx] = ok
	s.sendResultIdx = (s.sendResultIdx + 1) % lossWindow
	if s.sendResultN < lossWindow {
		s.sendResultN++
	}
}

// lossRate approximates delivery loss from the recent send-failure window.
// Without a feedback channel from receivers this is the sender's best local
// signal for the pacer's coarse back-off.
func (s *SendSession) lossRate() float64 {
	if s.sendResultN == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < s.sendResultN; i++ {
		if !s.sendResults[i] {
			failed++
		}
	}
	return float64(failed) / float64(s.sendResultN)
}

// sleep waits for d (at least a millisecond, to avoid spinning when the next
// slot is immediate) and reports false when the context ended first.
func (s *SendSession) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *SendSession) publish() {
	snap := SendStats{
		SessionID:       s.id,
		Backend:         s.src.BackendName(),
		TargetFPS:       s.pacer.TargetFPS(),
		ActualFPS:       s.pacer.ActualFPS(),
		FramesCaptured:  s.framesCaptured,
		CaptureFailures: s.captureFailures,
		EncodeFailures:  s.encodeFailures,
		LossRate:        s.lossRate(),
		Sender:          s.sender.Snapshot(),
	}
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

// Snapshot returns the last published stats. Safe from any goroutine.
func (s *SendSession) Snapshot() SendStats {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snap
}
