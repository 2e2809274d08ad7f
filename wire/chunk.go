// Package wire defines the datagram format that carries encoded frames
// between sender and receiver. Each datagram holds one chunk: a fixed
// 12-byte big-endian header (frame id, chunk index, chunk count) followed by
// a slice of the frame payload. Concatenating all chunks of a frame in index
// order reproduces the payload exactly.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed chunk header length in bytes.
	HeaderSize = 12

	// DefaultMaxChunkSize keeps datagrams comfortably below common
	// unfragmented UDP path limits on a LAN.
	DefaultMaxChunkSize = 8192
)

var (
	ErrShortPacket = errors.New("wire: packet shorter than chunk header")
	ErrBadHeader   = errors.New("wire: inconsistent chunk header")
	ErrEmptyChunk  = errors.New("wire: chunk carries no data")
)

// Chunk is one size-bounded slice of an encoded frame plus the framing
// metadata needed to reassemble it.
type Chunk struct {
	FrameID uint32
	Index   uint32
	Count   uint32
	Data    []byte
}

// Marshal serializes the chunk into a single datagram payload.
func (c Chunk) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(c.Data))
	binary.BigEndian.PutUint32(buf[0:4], c.FrameID)
	binary.BigEndian.PutUint32(buf[4:8], c.Index)
	binary.BigEndian.PutUint32(buf[8:12], c.Count)
	copy(buf[HeaderSize:], c.Data)
	return buf
}

// Parse decodes a received datagram into a Chunk. The chunk data aliases a
// copy of the packet, so the caller's buffer may be reused afterwards.
func Parse(pkt []byte) (Chunk, error) {
	if len(pkt) < HeaderSize {
		return Chunk{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(pkt))
	}
	c := Chunk{
		FrameID: binary.BigEndian.Uint32(pkt[0:4]),
		Index:   binary.BigEndian.Uint32(pkt[4:8]),
		Count:   binary.BigEndian.Uint32(pkt[8:12]),
	}
	if c.Count == 0 || c.Index >= c.Count {
		return Chunk{}, fmt.Errorf("%w: index %d of %d", ErrBadHeader, c.Index, c.Count)
	}
	if len(pkt) == HeaderSize {
		return Chunk{}, ErrEmptyChunk
	}
	c.Data = make([]byte, len(pkt)-HeaderSize)
	copy(c.Data, pkt[HeaderSize:])
	return c, nil
}

// Split cuts payload into chunks of at most maxChunkSize bytes, all tagged
// with frameID and the total chunk count. The chunk data aliases payload;
// callers must not mutate it until the chunks are sent.
func Split(frameID uint32, payload []byte, maxChunkSize int) []Chunk {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if len(payload) == 0 {
		return nil
	}
	count := (len(payload) + maxChunkSize - 1) / maxChunkSize
	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxChunkSize
		end := start + maxChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{
			FrameID: frameID,
			Index:   uint32(i),
			Count:   uint32(count),
			Data:    payload[start:end],
		})
	}
	return chunks
}
