package beamcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacerFirstCaptureFiresImmediately(t *testing.T) {
	p := NewPacer(30)

	require.True(t, p.ShouldCapture())
	require.False(t, p.ShouldCapture())
	require.Equal(t, uint64(1), p.FrameCount())
}

func TestPacerTimeUntilNext(t *testing.T) {
	p := NewPacer(10)

	require.Equal(t, time.Duration(0), p.TimeUntilNext())

	require.True(t, p.ShouldCapture())
	wait := p.TimeUntilNext()
	require.Greater(t, wait, time.Duration(0))
	require.LessOrEqual(t, wait, p.SPF())
}

func TestPacerClampsTarget(t *testing.T) {
	p := NewPacer(0)
	require.Equal(t, 1, p.TargetFPS())

	p.SetTargetFPS(-5)
	require.Equal(t, 1, p.TargetFPS())

	p.SetTargetFPS(42)
	require.Equal(t, 42, p.TargetFPS())
	require.Equal(t, time.Second/42, p.SPF())
}

func TestPacerReset(t *testing.T) {
	p := NewPacer(30)
	require.True(t, p.ShouldCapture())
	require.Equal(t, uint64(1), p.FrameCount())

	p.Reset()
	require.Equal(t, uint64(0), p.FrameCount())
	require.True(t, p.ShouldCapture())
}

func TestAdaptivePacerStepsDownOnLoss(t *testing.T) {
	a := NewAdaptivePacer(PacerConfig{}, nil)
	require.Equal(t, 30, a.TargetFPS())

	a.RecordCycle(time.Millisecond, 0.5)
	require.Equal(t, 25, a.TargetFPS())

	a.RecordCycle(time.Millisecond, 0.5)
	require.Equal(t, 20, a.TargetFPS())
}

func TestAdaptivePacerNeverDropsBelowMin(t *testing.T) {
	cfg := DefaultPacerConfig()
	a := NewAdaptivePacer(cfg, nil)

	for i := 0; i < 100; i++ {
		a.RecordCycle(time.Millisecond, 1.0)
		require.GreaterOrEqual(t, a.TargetFPS(), cfg.MinFPS)
	}
	require.Equal(t, cfg.MinFPS, a.TargetFPS())
}

func TestAdaptivePacerSlowCyclesStepDownAfterWindow(t *testing.T) {
	cfg := DefaultPacerConfig()
	a := NewAdaptivePacer(cfg, nil)

	slow := 3 * a.SPF()
	for i := 0; i < cfg.SlowWindow-1; i++ {
		a.RecordCycle(slow, 0)
		require.Equal(t, cfg.TargetFPS, a.TargetFPS())
	}
	a.RecordCycle(slow, 0)
	require.Equal(t, cfg.TargetFPS-cfg.StepDown, a.TargetFPS())
}

func TestAdaptivePacerFastCycleResetsSlowStreak(t *testing.T) {
	cfg := DefaultPacerConfig()
	a := NewAdaptivePacer(cfg, nil)

	slow := 3 * a.SPF()
	for i := 0; i < cfg.SlowWindow-1; i++ {
		a.RecordCycle(slow, 0)
	}
	a.RecordCycle(time.Millisecond, 0)
	a.RecordCycle(slow, 0)
	require.Equal(t, cfg.TargetFPS, a.TargetFPS())
}

func TestAdaptivePacerStepsUpAfterHealthyWindow(t *testing.T) {
	a := NewAdaptivePacer(PacerConfig{HealthyWindow: 3}, nil)
	require.Equal(t, 30, a.TargetFPS())

	a.RecordCycle(time.Millisecond, 0)
	a.RecordCycle(time.Millisecond, 0)
	require.Equal(t, 30, a.TargetFPS())
	a.RecordCycle(time.Millisecond, 0)
	require.Equal(t, 32, a.TargetFPS())
}

func TestAdaptivePacerNeverExceedsMax(t *testing.T) {
	a := NewAdaptivePacer(PacerConfig{TargetFPS: 59, HealthyWindow: 1}, nil)

	for i := 0; i < 10; i++ {
		a.RecordCycle(time.Millisecond, 0)
	}
	require.Equal(t, 60, a.TargetFPS())
}

func TestAdaptivePacerClampsInitialTarget(t *testing.T) {
	a := NewAdaptivePacer(PacerConfig{TargetFPS: 500}, nil)
	require.Equal(t, 60, a.TargetFPS())

	a = NewAdaptivePacer(PacerConfig{TargetFPS: 2, MinFPS: 5}, nil)
	require.Equal(t, 5, a.TargetFPS())
}
