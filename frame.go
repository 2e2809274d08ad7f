// Package beamcast implements a LAN screen streaming pipeline. Captured
// frames are paced, encoded, split into size-bounded UDP datagrams and
// multicast to receivers, which reassemble and validate them before handing
// them to a render sink. Delivery is best-effort: lost or stale frames are
// dropped and the sink keeps showing the last good frame.
package beamcast

import "time"

// BytesPerPixel is the size of one packed BGRA pixel.
const BytesPerPixel = 4

// RawFrame is one uncompressed screen image as produced by a capture
// backend, tightly packed without row padding.
type RawFrame struct {
	Width  int
	Height int
	// Data holds Width*Height packed BGRA pixels, row-major.
	Data       []byte
	CapturedAt time.Time
}

// Size returns the expected length of Data for the frame dimensions.
func (f *RawFrame) Size() int {
	return f.Width * f.Height * BytesPerPixel
}
