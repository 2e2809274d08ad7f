// Package capture produces raw screen frames on demand. A Source binds one
// backend out of an ordered preference list (platform-native GStreamer path
// first, portable test pattern last) and converts backend buffers into
// tightly packed BGRA frames, falling forward through the chain when a bound
// backend fails.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beamlab/beamcast"
)

var (
	// ErrNoFrame is the transient "no new frame yet" condition backends
	// report when the screen content has not changed or the pipeline is
	// still warming up. Callers re-poll; it is not a failure.
	ErrNoFrame = errors.New("capture: no new frame available")

	// ErrTimeout means the bounded re-poll budget was exhausted without a
	// frame. Retryable by the caller.
	ErrTimeout = errors.New("capture: timed out waiting for frame")

	// ErrBackendFailed means the bound backend reported a non-transient
	// error and was invalidated.
	ErrBackendFailed = errors.New("capture: backend failed")

	// ErrInvalidBuffer means a backend returned a buffer inconsistent with
	// its reported dimensions. The buffer is never truncated or
	// reinterpreted.
	ErrInvalidBuffer = errors.New("capture: invalid frame buffer")

	// ErrNoBackend means the whole fallback chain is exhausted.
	ErrNoBackend = errors.New("capture: no capture backend available")
)

const (
	// DefaultRetryInterval and DefaultMaxRetries bound the re-poll loop on
	// ErrNoFrame: 30 × 10ms gives a 300ms wall-clock ceiling before a stuck
	// backend turns into an explicit ErrTimeout.
	DefaultRetryInterval = 10 * time.Millisecond
	DefaultMaxRetries    = 30
)

// Backend is one concrete screen grabber. Capture returns the most recent
// frame buffer in BGRA, possibly with row padding; the Source derives the
// stride from the buffer length and repacks. Backends are owned by a single
// capture loop and need not be safe for concurrent use.
type Backend interface {
	// Capture polls for the current frame. It returns ErrNoFrame when no
	// new frame is available yet.
	Capture() ([]byte, error)
	Width() int
	Height() int
	Close() error
}

// BackendFactory describes one candidate backend in the preference order.
// Probe is called once when the Source needs to bind (or re-bind) and may
// fail, in which case the next candidate is tried.
type BackendFactory struct {
	Name  string
	Probe func() (Backend, error)
}

// DefaultBackends is the static preference order: the GStreamer platform
// path first, then the always-available test pattern.
func DefaultBackends() []BackendFactory {
	return []BackendFactory{
		{Name: "gstreamer", Probe: NewGStreamerBackend},
		{Name: "testpattern", Probe: func() (Backend, error) { return NewTestPattern(0, 0), nil }},
	}
}

type SourceOption func(*Source) error

func SourceRetryInterval(d time.Duration) SourceOption {
	return func(s *Source) error {
		if d <= 0 {
			return fmt.Errorf("capture: invalid retry interval: %v", d)
		}
		s.retryInterval = d
		return nil
	}
}

func SourceMaxRetries(n int) SourceOption {
	return func(s *Source) error {
		if n < 1 {
			return fmt.Errorf("capture: invalid retry count: %d", n)
		}
		s.maxRetries = n
		return nil
	}
}

func SourceLogger(log *slog.Logger) SourceOption {
	return func(s *Source) error {
		s.log = log
		return nil
	}
}

// Source owns the bound backend and the fallback chain. It is exclusively
// owned by the capture loop; no synchronization inside.
type Source struct {
	factories []BackendFactory

	backend Backend
	name    string
	next    int // index to resume probing from after a backend failure

	retryInterval time.Duration
	maxRetries    int
	log           *slog.Logger
}

// NewSource probes the candidate backends in order and binds the first one
// that initializes. It fails only when the whole chain is unavailable.
func NewSource(factories []BackendFactory, opts ...SourceOption) (*Source, error) {
	if len(factories) == 0 {
		return nil, ErrNoBackend
	}
	s := &Source{
		factories:     factories,
		retryInterval: DefaultRetryInterval,
		maxRetries:    DefaultMaxRetries,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.log = s.log.With("component", "capture")
	if err := s.probe(); err != nil {
		return nil, err
	}
	return s, nil
}

// probe binds the first backend from s.next onward that initializes.
func (s *Source) probe() error {
	for ; s.next < len(s.factories); s.next++ {
		f := s.factories[s.next]
		b, err := f.Probe()
		if err != nil {
			s.log.Warn("capture backend unavailable", "backend", f.Name, "error", err)
			continue
		}
		s.backend = b
		s.name = f.Name
		s.next++
		s.log.Info("capture backend bound", "backend", f.Name)
		return nil
	}
	return ErrNoBackend
}

func (s *Source) invalidate() {
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.log.Warn("closing failed backend", "backend", s.name, "error", err)
		}
		s.backend = nil
		s.name = ""
	}
}

// BackendName reports the currently bound backend, empty if none.
func (s *Source) BackendName() string {
	return s.name
}

// Dimensions returns the bound backend's frame size.
func (s *Source) Dimensions() (width, height int) {
	if s.backend == nil {
		return 0, 0
	}
	return s.backend.Width(), s.backend.Height()
}

// Capture polls the bound backend for the next frame, re-polling transient
// no-frame conditions within the bounded retry budget. On a backend-level
// error it invalidates the backend, re-probes the remaining fallback chain
// and retries once, so a single failing backend costs the caller at most one
// extra attempt.
func (s *Source) Capture(ctx context.Context) (*beamcast.RawFrame, error) {
	if s.backend == nil {
		if err := s.probe(); err != nil {
			return nil, err
		}
	}

	frame, err := s.captureBound(ctx)
	if err == nil {
		return frame, nil
	}
	if !errors.Is(err, ErrBackendFailed) {
		return nil, err
	}

	s.log.Warn("capture backend failed, probing fallback", "backend", s.name, "error", err)
	s.invalidate()
	if perr := s.probe(); perr != nil {
		return nil, perr
	}
	return s.captureBound(ctx)
}

func (s *Source) captureBound(ctx context.Context) (*beamcast.RawFrame, error) {
	for attempt := 1; ; attempt++ {
		buf, err := s.backend.Capture()
		if err == nil {
			return s.pack(buf)
		}
		if !errors.Is(err, ErrNoFrame) {
			return nil, fmt.Errorf("%w: %v", ErrBackendFailed, err)
		}
		if attempt >= s.maxRetries {
			return nil, fmt.Errorf("%w: %d polls over %v", ErrTimeout, attempt, time.Duration(attempt)*s.retryInterval)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryInterval):
		}
	}
}

// pack validates the backend buffer against the reported dimensions and
// copies it row by row into a tightly packed frame, honoring any row
// padding. Mismatched sizes are an error, never silently truncated.
func (s *Source) pack(buf []byte) (*beamcast.RawFrame, error) {
	w, h := s.backend.Width(), s.backend.Height()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: backend reports %dx%d", ErrInvalidBuffer, w, h)
	}
	rowBytes := w * beamcast.BytesPerPixel
	want := rowBytes * h
	if len(buf) < want {
		return nil, fmt.Errorf("%w: got %d bytes, want at least %d for %dx%d",
			ErrInvalidBuffer, len(buf), want, w, h)
	}
	stride := len(buf) / h
	if stride < rowBytes {
		return nil, fmt.Errorf("%w: stride %d below row size %d", ErrInvalidBuffer, stride, rowBytes)
	}

	data := make([]byte, want)
	for y := 0; y < h; y++ {
		copy(data[y*rowBytes:(y+1)*rowBytes], buf[y*stride:y*stride+rowBytes])
	}
	return &beamcast.RawFrame{
		Width:      w,
		Height:     h,
		Data:       data,
		CapturedAt: time.Now(),
	}, nil
}

// Close releases the bound backend. The source cannot capture afterwards.
func (s *Source) Close() error {
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	s.name = ""
	s.next = len(s.factories)
	return err
}
