// Package codec implements the JPEG boundary of the streaming pipeline. The
// rest of the system treats encoded frames as opaque bytes; only this
// package and the receiver's structural check know the format.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/beamlab/beamcast"
)

const (
	// DefaultQuality trades visible artifacts for datagram count; screen
	// content survives it well.
	DefaultQuality = 60

	// DefaultMaxWidth caps the encoded width. Larger captures are scaled
	// down to keep frames within a handful of chunks.
	DefaultMaxWidth = 1280

	// recompressLimit is the encoded size above which the frame is
	// re-encoded at reduced quality. A frame this large would spread over
	// 60+ datagrams and almost certainly lose one.
	recompressLimit = 500_000
)

// JPEGEncoder converts raw BGRA frames into JPEG payloads.
type JPEGEncoder struct {
	quality  int
	maxWidth int
}

// NewJPEGEncoder creates an encoder with the given quality (1-100) and
// maximum output width; zero values select the defaults.
func NewJPEGEncoder(quality, maxWidth int) *JPEGEncoder {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	return &JPEGEncoder{quality: quality, maxWidth: maxWidth}
}

// Encode compresses the frame, downscaling wide captures and re-encoding at
// a lower quality when the result is still too large to chunk sensibly.
func (e *JPEGEncoder) Encode(f *beamcast.RawFrame) ([]byte, error) {
	if f == nil {
		return nil, errors.New("codec: nil frame")
	}
	if len(f.Data) != f.Size() {
		return nil, fmt.Errorf("codec: frame data does not match %dx%d", f.Width, f.Height)
	}

	img := bgraToRGBA(f)
	if img.Rect.Dx() > e.maxWidth {
		img = downscale(img, e.maxWidth)
	}

	payload, err := encodeJPEG(img, e.quality)
	if err != nil {
		return nil, err
	}
	if len(payload) > recompressLimit {
		quality := e.quality / 2
		if quality < 20 {
			quality = 20
		}
		if payload, err = encodeJPEG(img, quality); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("codec: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// bgraToRGBA swaps the blue and red channels into the layout image/jpeg
// expects. Alpha is forced opaque; JPEG has no alpha anyway.
func bgraToRGBA(f *beamcast.RawFrame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	src := f.Data
	dst := img.Pix
	for i := 0; i+3 < len(src); i += 4 {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
		dst[i+3] = 0xFF
	}
	return img
}

// downscale resizes img to maxWidth preserving aspect ratio. Nearest
// neighbor is enough here: the JPEG pass masks the artifacts at screen-share
// scale and it keeps the hot path allocation-light.
func downscale(img *image.RGBA, maxWidth int) *image.RGBA {
	srcW := img.Rect.Dx()
	srcH := img.Rect.Dy()
	dstW := maxWidth
	dstH := srcH * maxWidth / srcW
	if dstH < 1 {
		dstH = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < dstH; y++ {
		srcY := y * srcH / dstH
		for x := 0; x < dstW; x++ {
			srcX := x * srcW / dstW
			si := srcY*img.Stride + srcX*4
			di := y*out.Stride + x*4
			copy(out.Pix[di:di+4], img.Pix[si:si+4])
		}
	}
	return out
}

// JPEGDecoder turns validated payloads back into images for display.
type JPEGDecoder struct{}

func NewJPEGDecoder() *JPEGDecoder {
	return &JPEGDecoder{}
}

func (JPEGDecoder) Decode(payload []byte) (image.Image, error) {
	if !beamcast.ValidJPEG(payload) {
		return nil, fmt.Errorf("codec: payload is not a plausible jpeg frame")
	}
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("codec: decode jpeg: %w", err)
	}
	return img, nil
}
