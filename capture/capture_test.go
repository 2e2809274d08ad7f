package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beamlab/beamcast"
)

// fakeBackend replays scripted Capture results, repeating the last one.
type fakeBackend struct {
	w, h    int
	results []fakeResult
	calls   int
	closed  bool
}

type fakeResult struct {
	buf []byte
	err error
}

func (f *fakeBackend) Capture() ([]byte, error) {
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	r := f.results[i]
	return r.buf, r.err
}

func (f *fakeBackend) Width() int  { return f.w }
func (f *fakeBackend) Height() int { return f.h }

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func factoryFor(name string, b *fakeBackend) BackendFactory {
	return BackendFactory{Name: name, Probe: func() (Backend, error) { return b, nil }}
}

func brokenFactory(name string) BackendFactory {
	return BackendFactory{Name: name, Probe: func() (Backend, error) {
		return nil, errors.New("not supported here")
	}}
}

func tightBuffer(w, h int) []byte {
	buf := make([]byte, w*h*beamcast.BytesPerPixel)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

func TestSourceBindsFirstAvailableBackend(t *testing.T) {
	b := &fakeBackend{w: 4, h: 2, results: []fakeResult{{buf: tightBuffer(4, 2)}}}

	src, err := NewSource([]BackendFactory{brokenFactory("native"), factoryFor("fallback", b)})
	require.NoError(t, err)
	defer src.Close()

	require.Equal(t, "fallback", src.BackendName())
	w, h := src.Dimensions()
	require.Equal(t, 4, w)
	require.Equal(t, 2, h)
}

func TestSourceFailsWhenChainExhausted(t *testing.T) {
	_, err := NewSource([]BackendFactory{brokenFactory("a"), brokenFactory("b")})
	require.ErrorIs(t, err, ErrNoBackend)

	_, err = NewSource(nil)
	require.ErrorIs(t, err, ErrNoBackend)
}

func TestCaptureReturnsTightlyPackedFrame(t *testing.T) {
	buf := tightBuffer(4, 2)
	b := &fakeBackend{w: 4, h: 2, results: []fakeResult{{buf: buf}}}

	src, err := NewSource([]BackendFactory{factoryFor("fake", b)})
	require.NoError(t, err)
	defer src.Close()

	frame, err := src.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, frame.Width)
	require.Equal(t, 2, frame.Height)
	require.Equal(t, buf, frame.Data)
	require.False(t, frame.CapturedAt.IsZero())
}

func TestCaptureRepacksPaddedRows(t *testing.T) {
	// 2x2 frame with 4 bytes of row padding: stride 12, row size 8.
	padded := make([]byte, 24)
	for i := range padded {
		padded[i] = byte(i)
	}
	b := &fakeBackend{w: 2, h: 2, results: []fakeResult{{buf: padded}}}

	src, err := NewSource([]BackendFactory{factoryFor("fake", b)})
	require.NoError(t, err)
	defer src.Close()

	frame, err := src.Capture(context.Background())
	require.NoError(t, err)
	require.Len(t, frame.Data, 16)
	require.Equal(t, padded[0:8], frame.Data[0:8])
	require.Equal(t, padded[12:20], frame.Data[8:16])
}

func TestCaptureRejectsShortBuffer(t *testing.T) {
	b := &fakeBackend{w: 4, h: 4, results: []fakeResult{{buf: make([]byte, 10)}}}

	src, err := NewSource([]BackendFactory{factoryFor("fake", b)})
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Capture(context.Background())
	require.ErrorIs(t, err, ErrInvalidBuffer)
}

func TestCaptureTimesOutWithoutFrames(t *testing.T) {
	b := &fakeBackend{w: 2, h: 2, results: []fakeResult{{err: ErrNoFrame}}}

	src, err := NewSource([]BackendFactory{factoryFor("fake", b)},
		SourceRetryInterval(time.Millisecond),
		SourceMaxRetries(3),
	)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Capture(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 3, b.calls)
}

func TestCaptureFallsForwardOnBackendFailure(t *testing.T) {
	failing := &fakeBackend{w: 2, h: 2, results: []fakeResult{{err: errors.New("display gone")}}}
	healthy := &fakeBackend{w: 2, h: 2, results: []fakeResult{{buf: tightBuffer(2, 2)}}}

	src, err := NewSource([]BackendFactory{
		factoryFor("primary", failing),
		factoryFor("secondary", healthy),
	})
	require.NoError(t, err)
	defer src.Close()

	require.Equal(t, "primary", src.BackendName())

	frame, err := src.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, frame.Width)
	require.Equal(t, "secondary", src.BackendName())
	require.True(t, failing.closed)
}

func TestCaptureFailsWhenFallbacksExhausted(t *testing.T) {
	failing := &fakeBackend{w: 2, h: 2, results: []fakeResult{{err: errors.New("display gone")}}}

	src, err := NewSource([]BackendFactory{factoryFor("only", failing)})
	require.NoError(t, err)

	_, err = src.Capture(context.Background())
	require.ErrorIs(t, err, ErrNoBackend)
}

func TestCaptureHonorsContext(t *testing.T) {
	b := &fakeBackend{w: 2, h: 2, results: []fakeResult{{err: ErrNoFrame}}}

	src, err := NewSource([]BackendFactory{factoryFor("fake", b)})
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = src.Capture(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTestPatternProducesValidFrames(t *testing.T) {
	p := NewTestPattern(32, 16)
	defer p.Close()

	first, err := p.Capture()
	require.NoError(t, err)
	require.Len(t, first, 32*16*beamcast.BytesPerPixel)

	second, err := p.Capture()
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestClosedTestPatternFails(t *testing.T) {
	p := NewTestPattern(8, 8)
	require.NoError(t, p.Close())

	_, err := p.Capture()
	require.ErrorIs(t, err, ErrBackendFailed)
}
