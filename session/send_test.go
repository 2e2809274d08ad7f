package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beamlab/beamcast"
	"github.com/beamlab/beamcast/capture"
	"github.com/beamlab/beamcast/transport"
)

func TestLossRateOverWindow(t *testing.T) {
	s := &SendSession{}
	require.Equal(t, 0.0, s.lossRate())

	for i := 0; i < 3; i++ {
		s.recordSend(true)
	}
	s.recordSend(false)
	require.InDelta(t, 0.25, s.lossRate(), 1e-9)
}

func TestLossRateForgetsOldResults(t *testing.T) {
	s := &SendSession{}

	// An early run of failures ages out of the window.
	for i := 0; i < lossWindow; i++ {
		s.recordSend(false)
	}
	require.Equal(t, 1.0, s.lossRate())

	for i := 0; i < lossWindow; i++ {
		s.recordSend(true)
	}
	require.Equal(t, 0.0, s.lossRate())
}

func TestNewReceiveSessionRejectsUnicastGroup(t *testing.T) {
	_, err := NewReceiveSession("127.0.0.1:9999", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a multicast group")
}

// deadBackend probes fine but never yields a frame, so every capture
// attempt exhausts the chain.
type deadBackend struct{}

func (deadBackend) Capture() ([]byte, error) { return nil, errors.New("display gone") }
func (deadBackend) Width() int               { return 2 }
func (deadBackend) Height() int              { return 2 }
func (deadBackend) Close() error             { return nil }

type unreachableEncoder struct{}

func (unreachableEncoder) Encode(*beamcast.RawFrame) ([]byte, error) {
	return nil, errors.New("encode should not be reached")
}

func TestRunStopsAfterConsecutiveCaptureFailures(t *testing.T) {
	sender, err := transport.NewSender(transport.DefaultGroup)
	if err != nil {
		t.Skipf("no multicast route available: %v", err)
	}
	defer sender.Close()

	src, err := capture.NewSource([]capture.BackendFactory{{
		Name:  "dead",
		Probe: func() (capture.Backend, error) { return deadBackend{}, nil },
	}})
	require.NoError(t, err)
	defer src.Close()

	pacer := beamcast.NewAdaptivePacer(beamcast.PacerConfig{TargetFPS: 60}, nil)

	sess, err := NewSendSession(src, unreachableEncoder{}, sender, pacer,
		SendFailureThreshold(3))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = sess.Run(ctx)
	require.ErrorIs(t, err, ErrStreamStopped)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
}
