package beamcast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func jpegLike(n int) []byte {
	b := make([]byte, n)
	b[0], b[1] = 0xFF, 0xD8
	b[n-2], b[n-1] = 0xFF, 0xD9
	return b
}

func TestValidJPEG(t *testing.T) {
	require.True(t, ValidJPEG(jpegLike(MinFrameSize)))
	require.True(t, ValidJPEG(jpegLike(4096)))
}

func TestValidJPEGRejectsShortPayload(t *testing.T) {
	require.False(t, ValidJPEG(jpegLike(MinFrameSize-1)))
	require.False(t, ValidJPEG(nil))
}

func TestValidJPEGRejectsMissingMarkers(t *testing.T) {
	noSOI := jpegLike(200)
	noSOI[0] = 0x00
	require.False(t, ValidJPEG(noSOI))

	noEOI := jpegLike(200)
	noEOI[199] = 0x00
	require.False(t, ValidJPEG(noEOI))

	require.False(t, ValidJPEG(make([]byte, 200)))
}

func TestRawFrameSize(t *testing.T) {
	f := RawFrame{Width: 16, Height: 9}
	require.Equal(t, 16*9*BytesPerPixel, f.Size())
}
