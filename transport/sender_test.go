package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beamlab/beamcast"
)

func newTestSender(t *testing.T, opts ...SenderOption) *Sender {
	t.Helper()
	s, err := NewSender(DefaultGroup, opts...)
	if err != nil {
		t.Skipf("no multicast route available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSenderRejectsUnicastAddress(t *testing.T) {
	_, err := NewSender("127.0.0.1:9999")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a multicast group")
}

func TestNewSenderRejectsInvalidOptions(t *testing.T) {
	for _, opt := range []SenderOption{
		SenderMaxChunkSize(0),
		SenderTTL(0),
		SenderTTL(256),
		SenderFailureThreshold(0),
	} {
		_, err := NewSender(DefaultGroup, opt)
		require.Error(t, err)
	}
}

func TestSendFrameRejectsSmallPayload(t *testing.T) {
	s := newTestSender(t)

	_, err := s.SendFrame(context.Background(), make([]byte, beamcast.MinFrameSize-1))
	require.ErrorIs(t, err, ErrPayloadTooSmall)

	// Nothing left the socket and the frame id did not advance.
	stats := s.Snapshot()
	require.Equal(t, uint64(0), stats.FramesSent)
	require.Equal(t, uint64(0), stats.ChunksSent)
	require.Equal(t, uint32(0), stats.NextFrameID)
}

func TestSendFrameAdvancesFrameID(t *testing.T) {
	s := newTestSender(t, SenderMaxChunkSize(100))

	payload := make([]byte, 250)
	id, err := s.SendFrame(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, uint32(0), id)

	id, err = s.SendFrame(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, uint32(1), id)

	stats := s.Snapshot()
	require.Equal(t, uint64(2), stats.FramesSent)
	// 3 chunks per frame plus the redundant first and last resend.
	require.Equal(t, uint64(10), stats.ChunksSent)
	require.Equal(t, uint64(500), stats.BytesSent)
}
