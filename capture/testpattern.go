package capture

import "github.com/beamlab/beamcast"

const (
	defaultPatternWidth  = 1280
	defaultPatternHeight = 720
)

// TestPattern is the portable fallback backend: a synthetic moving gradient
// that needs no platform support. It doubles as the deterministic backend
// for tests and for exercising the pipeline without a display.
type TestPattern struct {
	width  int
	height int
	tick   uint8
	closed bool
}

// NewTestPattern creates a pattern generator. Non-positive dimensions fall
// back to 1280x720.
func NewTestPattern(width, height int) *TestPattern {
	if width <= 0 || height <= 0 {
		width, height = defaultPatternWidth, defaultPatternHeight
	}
	return &TestPattern{width: width, height: height}
}

// Capture renders the next pattern frame. The gradient shifts each call so
// consecutive frames differ, like a live screen would.
func (t *TestPattern) Capture() ([]byte, error) {
	if t.closed {
		return nil, ErrBackendFailed
	}
	t.tick++
	buf := make([]byte, t.width*t.height*beamcast.BytesPerPixel)
	for y := 0; y < t.height; y++ {
		row := y * t.width * beamcast.BytesPerPixel
		for x := 0; x < t.width; x++ {
			i := row + x*beamcast.BytesPerPixel
			buf[i] = uint8(x) + t.tick   // B
			buf[i+1] = uint8(y) + t.tick // G
			buf[i+2] = t.tick            // R
			buf[i+3] = 0xFF              // A
		}
	}
	return buf, nil
}

func (t *TestPattern) Width() int {
	return t.width
}

func (t *TestPattern) Height() int {
	return t.height
}

func (t *TestPattern) Close() error {
	t.closed = true
	return nil
}
