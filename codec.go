package beamcast

import "image"

// MinFrameSize is the smallest payload accepted as a plausible encoded
// frame. Anything shorter is treated as garbage by both sender and receiver.
const MinFrameSize = 100

// Encoder compresses a raw frame into an opaque payload. The pipeline never
// inspects the payload beyond the structural check of the receiver.
type Encoder interface {
	Encode(frame *RawFrame) ([]byte, error)
}

// Decoder turns a validated payload back into an image for display.
type Decoder interface {
	Decode(payload []byte) (image.Image, error)
}

// ValidJPEG reports whether payload is structurally plausible JPEG: long
// enough to be a real frame and carrying the SOI and EOI markers. It is the
// receiver's cheap corruption check, not a full parse.
func ValidJPEG(payload []byte) bool {
	if len(payload) < MinFrameSize {
		return false
	}
	if payload[0] != 0xFF || payload[1] != 0xD8 {
		return false
	}
	n := len(payload)
	return payload[n-2] == 0xFF && payload[n-1] == 0xD9
}
