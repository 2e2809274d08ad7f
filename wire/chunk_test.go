package wire

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	rng := rand.New(rand.NewSource(42))
	rng.Read(b)
	return b
}

func TestSplitMarshalParseRoundTrip(t *testing.T) {
	payload := randomPayload(t, 20_000)

	chunks := Split(7, payload, 8192)
	require.Len(t, chunks, 3)

	// Simulate out-of-order arrival.
	order := []int{2, 0, 1}
	received := make([][]byte, len(chunks))
	for _, i := range order {
		c, err := Parse(chunks[i].Marshal())
		require.NoError(t, err)
		require.Equal(t, uint32(7), c.FrameID)
		require.Equal(t, uint32(3), c.Count)
		received[c.Index] = c.Data
	}

	var got []byte
	for _, d := range received {
		got = append(got, d...)
	}
	require.True(t, bytes.Equal(payload, got))
}

func TestSplitExactMultiple(t *testing.T) {
	payload := randomPayload(t, 16_384)

	chunks := Split(1, payload, 8192)
	require.Len(t, chunks, 2)
	require.Len(t, chunks[0].Data, 8192)
	require.Len(t, chunks[1].Data, 8192)
}

func TestSplitSingleChunk(t *testing.T) {
	payload := randomPayload(t, 100)

	chunks := Split(9, payload, 8192)
	require.Len(t, chunks, 1)
	require.Equal(t, uint32(0), chunks[0].Index)
	require.Equal(t, uint32(1), chunks[0].Count)
	require.Equal(t, payload, chunks[0].Data)
}

func TestSplitEmptyPayload(t *testing.T) {
	require.Nil(t, Split(1, nil, 8192))
}

func TestSplitIndexOrder(t *testing.T) {
	chunks := Split(3, randomPayload(t, 1000), 128)
	for i, c := range chunks {
		require.Equal(t, uint32(i), c.Index)
		require.Equal(t, uint32(len(chunks)), c.Count)
	}
}

func TestParseRejectsShortPacket(t *testing.T) {
	_, err := Parse(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrShortPacket)
}

func TestParseRejectsHeaderOnly(t *testing.T) {
	pkt := Chunk{FrameID: 1, Index: 0, Count: 1}.Marshal()
	_, err := Parse(pkt)
	require.ErrorIs(t, err, ErrEmptyChunk)
}

func TestParseRejectsBadHeader(t *testing.T) {
	zeroCount := Chunk{FrameID: 1, Index: 0, Count: 0, Data: []byte{0xAB}}.Marshal()
	_, err := Parse(zeroCount)
	require.ErrorIs(t, err, ErrBadHeader)

	indexOutOfRange := Chunk{FrameID: 1, Index: 3, Count: 3, Data: []byte{0xAB}}.Marshal()
	_, err = Parse(indexOutOfRange)
	require.ErrorIs(t, err, ErrBadHeader)
}

func TestParseCopiesData(t *testing.T) {
	pkt := Chunk{FrameID: 1, Index: 0, Count: 1, Data: []byte{1, 2, 3}}.Marshal()

	c, err := Parse(pkt)
	require.NoError(t, err)

	pkt[HeaderSize] = 0xFF
	require.Equal(t, []byte{1, 2, 3}, c.Data)
}
