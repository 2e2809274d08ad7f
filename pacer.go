package beamcast

import (
	"log/slog"
	"time"
)

// Pacer gates captures to a target frame rate. It never blocks; callers use
// TimeUntilNext to size their own sleeps.
type Pacer struct {
	targetFPS   int
	lastCapture time.Time
	frameCount  uint64
	startTime   time.Time
}

func NewPacer(targetFPS int) *Pacer {
	if targetFPS < 1 {
		targetFPS = 1
	}
	return &Pacer{
		targetFPS: targetFPS,
		startTime: time.Now(),
	}
}

// SPF returns the duration of one frame slot at the current target rate.
func (p *Pacer) SPF() time.Duration {
	return time.Duration(int64(time.Second) / int64(p.targetFPS))
}

// ShouldCapture reports whether a full frame slot has elapsed since the last
// capture. On true it starts the next slot.
func (p *Pacer) ShouldCapture() bool {
	if p.lastCapture.IsZero() || time.Since(p.lastCapture) >= p.SPF() {
		p.lastCapture = time.Now()
		p.frameCount++
		return true
	}
	return false
}

// TimeUntilNext returns how long until the next frame slot opens. Zero means
// a capture is already due. The value is advisory only.
func (p *Pacer) TimeUntilNext() time.Duration {
	if p.lastCapture.IsZero() {
		return 0
	}
	if remaining := p.SPF() - time.Since(p.lastCapture); remaining > 0 {
		return remaining
	}
	return 0
}

// ActualFPS returns the measured rate since construction or the last Reset.
func (p *Pacer) ActualFPS() float64 {
	elapsed := time.Since(p.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.frameCount) / elapsed
}

func (p *Pacer) FrameCount() uint64 {
	return p.frameCount
}

func (p *Pacer) TargetFPS() int {
	return p.targetFPS
}

func (p *Pacer) SetTargetFPS(fps int) {
	if fps < 1 {
		fps = 1
	}
	p.targetFPS = fps
}

func (p *Pacer) Reset() {
	p.frameCount = 0
	p.startTime = time.Now()
	p.lastCapture = time.Time{}
}

// PacerConfig holds the adaptation tunables for an AdaptivePacer. All
// adjustments are fixed additive steps so that no single bad cycle can
// collapse the rate.
type PacerConfig struct {
	TargetFPS int
	MinFPS    int
	MaxFPS    int

	// StepDown is subtracted from the target rate when a back-off triggers,
	// StepUp is added after a sustained healthy window.
	StepDown int
	StepUp   int

	// LossThreshold is the loss fraction above which the rate steps down.
	// Rates below half the threshold count as healthy.
	LossThreshold float64

	// SlowWindow is the number of consecutive cycles slower than twice the
	// frame budget required before the rate steps down.
	SlowWindow int

	// HealthyWindow is the number of consecutive healthy cycles required
	// before the rate steps up.
	HealthyWindow int
}

func DefaultPacerConfig() PacerConfig {
	return PacerConfig{
		TargetFPS:     30,
		MinFPS:        5,
		MaxFPS:        60,
		StepDown:      5,
		StepUp:        2,
		LossThreshold: 0.10,
		SlowWindow:    5,
		HealthyWindow: 30,
	}
}

// AdaptivePacer wraps a Pacer and adjusts the target rate from observed
// per-cycle processing time and transport loss. Adjustment is hysteretic:
// slow cycles and healthy cycles must persist for a configured window before
// the rate moves, and it moves by bounded steps clamped to [MinFPS, MaxFPS].
type AdaptivePacer struct {
	pacer *Pacer
	cfg   PacerConfig
	log   *slog.Logger

	slowStreak    int
	healthyStreak int
}

func NewAdaptivePacer(cfg PacerConfig, log *slog.Logger) *AdaptivePacer {
	if log == nil {
		log = slog.Default()
	}
	d := DefaultPacerConfig()
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = d.TargetFPS
	}
	if cfg.MinFPS <= 0 {
		cfg.MinFPS = d.MinFPS
	}
	if cfg.MaxFPS <= 0 {
		cfg.MaxFPS = d.MaxFPS
	}
	if cfg.StepDown <= 0 {
		cfg.StepDown = d.StepDown
	}
	if cfg.StepUp <= 0 {
		cfg.StepUp = d.StepUp
	}
	if cfg.LossThreshold <= 0 {
		cfg.LossThreshold = d.LossThreshold
	}
	if cfg.SlowWindow <= 0 {
		cfg.SlowWindow = d.SlowWindow
	}
	if cfg.HealthyWindow <= 0 {
		cfg.HealthyWindow = d.HealthyWindow
	}
	if cfg.TargetFPS < cfg.MinFPS {
		cfg.TargetFPS = cfg.MinFPS
	}
	if cfg.TargetFPS > cfg.MaxFPS {
		cfg.TargetFPS = cfg.MaxFPS
	}
	return &AdaptivePacer{
		pacer: NewPacer(cfg.TargetFPS),
		cfg:   cfg,
		log:   log.With("component", "pacer"),
	}
}

func (a *AdaptivePacer) ShouldCapture() bool {
	return a.pacer.ShouldCapture()
}

func (a *AdaptivePacer) TimeUntilNext() time.Duration {
	return a.pacer.TimeUntilNext()
}

func (a *AdaptivePacer) SPF() time.Duration {
	return a.pacer.SPF()
}

func (a *AdaptivePacer) TargetFPS() int {
	return a.pacer.TargetFPS()
}

func (a *AdaptivePacer) ActualFPS() float64 {
	return a.pacer.ActualFPS()
}

// RecordCycle feeds one capture-encode-send cycle into the adaptation
// policy. duration is the wall-clock cost of the cycle, lossRate the
// fraction of recent traffic that failed to go out or arrive.
func (a *AdaptivePacer) RecordCycle(duration time.Duration, lossRate float64) {
	slow := duration > 2*a.pacer.SPF()

	if slow {
		a.healthyStreak = 0
		a.slowStreak++
		if a.slowStreak >= a.cfg.SlowWindow {
			a.slowStreak = 0
			a.stepDown("slow cycles", duration)
		}
	} else {
		a.slowStreak = 0
	}

	if lossRate > a.cfg.LossThreshold {
		a.healthyStreak = 0
		a.stepDown("loss", duration)
		return
	}

	if !slow && lossRate < a.cfg.LossThreshold/2 {
		a.healthyStreak++
		if a.healthyStreak >= a.cfg.HealthyWindow {
			a.healthyStreak = 0
			a.stepUp()
		}
	}
}

func (a *AdaptivePacer) stepDown(reason string, duration time.Duration) {
	cur := a.pacer.TargetFPS()
	next := cur - a.cfg.StepDown
	if next < a.cfg.MinFPS {
		next = a.cfg.MinFPS
	}
	if next != cur {
		a.log.Info("reducing target fps",
			"reason", reason,
			"from", cur,
			"to", next,
			"cycle", duration,
		)
		a.pacer.SetTargetFPS(next)
	}
}

func (a *AdaptivePacer) stepUp() {
	cur := a.pacer.TargetFPS()
	next := cur + a.cfg.StepUp
	if next > a.cfg.MaxFPS {
		next = a.cfg.MaxFPS
	}
	if next != cur {
		a.log.Info("increasing target fps", "from", cur, "to", next)
		a.pacer.SetTargetFPS(next)
	}
}
