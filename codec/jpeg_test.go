package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beamlab/beamcast"
)

func gradientFrame(w, h int) *beamcast.RawFrame {
	data := make([]byte, w*h*beamcast.BytesPerPixel)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * beamcast.BytesPerPixel
			data[i] = byte(x)     // B
			data[i+1] = byte(y)   // G
			data[i+2] = byte(x+y) // R
			data[i+3] = 0xFF
		}
	}
	return &beamcast.RawFrame{Width: w, Height: h, Data: data, CapturedAt: time.Now()}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewJPEGEncoder(80, 1280)
	dec := NewJPEGDecoder()

	payload, err := enc.Encode(gradientFrame(64, 48))
	require.NoError(t, err)
	require.True(t, beamcast.ValidJPEG(payload))

	img, err := dec.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, 64, img.Bounds().Dx())
	require.Equal(t, 48, img.Bounds().Dy())
}

func TestEncodeDownscalesWideFrames(t *testing.T) {
	enc := NewJPEGEncoder(80, 100)
	dec := NewJPEGDecoder()

	payload, err := enc.Encode(gradientFrame(200, 100))
	require.NoError(t, err)

	img, err := dec.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, 100, img.Bounds().Dx())
	require.Equal(t, 50, img.Bounds().Dy())
}

func TestEncodeKeepsNarrowFramesUnscaled(t *testing.T) {
	enc := NewJPEGEncoder(80, 1280)
	dec := NewJPEGDecoder()

	payload, err := enc.Encode(gradientFrame(320, 200))
	require.NoError(t, err)

	img, err := dec.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, 320, img.Bounds().Dx())
}

func TestEncodeRejectsMismatchedBuffer(t *testing.T) {
	enc := NewJPEGEncoder(80, 1280)

	f := gradientFrame(16, 16)
	f.Data = f.Data[:len(f.Data)-4]
	_, err := enc.Encode(f)
	require.Error(t, err)
}

func TestEncodeRejectsNilFrame(t *testing.T) {
	enc := NewJPEGEncoder(80, 1280)

	payload, err := enc.Encode(nil)
	require.Error(t, err)
	require.Nil(t, payload)
	require.Contains(t, err.Error(), "nil frame")
}

func TestBGRAToRGBASwapsChannels(t *testing.T) {
	f := &beamcast.RawFrame{
		Width:  1,
		Height: 1,
		Data:   []byte{10, 20, 30, 40}, // B G R A
	}
	img := bgraToRGBA(f)
	require.Equal(t, []byte{30, 20, 10, 0xFF}, img.Pix[:4])
}

func TestNewJPEGEncoderDefaults(t *testing.T) {
	enc := NewJPEGEncoder(0, 0)
	require.Equal(t, DefaultQuality, enc.quality)
	require.Equal(t, DefaultMaxWidth, enc.maxWidth)

	enc = NewJPEGEncoder(101, -1)
	require.Equal(t, DefaultQuality, enc.quality)
	require.Equal(t, DefaultMaxWidth, enc.maxWidth)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	dec := NewJPEGDecoder()

	_, err := dec.Decode(make([]byte, 200))
	require.Error(t, err)

	_, err = dec.Decode(nil)
	require.Error(t, err)
}
