// Package progress derives the global progress indicator from the number of
// pending operations.
package progress

import (
	"math"
	"sync"
	"time"
)

// Config holds the indicator's fixed values and timings.
type Config struct {
	Initial      float64       `yaml:"initial"`
	Ceiling      float64       `yaml:"ceiling"`
	BaseDuration time.Duration `yaml:"base_duration"`
	PerOperation time.Duration `yaml:"per_operation"`
	Hold         time.Duration `yaml:"hold"`
	Fade         time.Duration `yaml:"fade"`
}

// DefaultConfig returns the standard indicator timings.
func DefaultConfig() Config {
	return Config{
		Initial:      15,
		Ceiling:      85,
		BaseDuration: 1500 * time.Millisecond,
		PerOperation: 500 * time.Millisecond,
		Hold:         400 * time.Millisecond,
		Fade:         300 * time.Millisecond,
	}
}

type phase int

const (
	phaseIdle phase = iota
	phaseRunning
	phaseHolding
	phaseFading
)

// Aggregator tracks one progress animation.
type Aggregator struct {
	cfg Config

	mu          sync.Mutex
	phase       phase
	count       int
	startedAt   time.Time
	completedAt time.Time
}

// New creates an idle aggregator. Zero fields in cfg take their defaults.
func New(cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.Ceiling <= 0 || cfg.Ceiling > 100 {
		cfg.Ceiling = def.Ceiling
	}
	if cfg.Initial <= 0 || cfg.Initial > cfg.Ceiling {
		cfg.Initial = math.Min(def.Initial, cfg.Ceiling)
	}
	if cfg.BaseDuration <= 0 {
		cfg.BaseDuration = def.BaseDuration
	}
	if cfg.PerOperation < 0 {
		cfg.PerOperation = 0
	}
	if cfg.Hold < 0 {
		cfg.Hold = 0
	}
	if cfg.Fade < 0 {
		cfg.Fade = 0
	}
	return &Aggregator{cfg: cfg}
}

// Observe records the current pending count.
func (a *Aggregator) Observe(pending int, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(now)

	if pending < 0 {
		pending = 0
	}
	switch {
	case pending > 0 && a.phase != phaseRunning:
		a.phase = phaseRunning
		a.startedAt = now
	case pending == 0 && a.phase == phaseRunning:
		a.phase = phaseHolding
		a.completedAt = now
	}
	a.count = pending
}

// Value returns the progress value in [0, 100] at now.
func (a *Aggregator) Value(now time.Time) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(now)

	switch a.phase {
	case phaseRunning:
		duration := a.cfg.BaseDuration + a.cfg.PerOperation*time.Duration(max(0, a.count-1))
		t := float64(now.Sub(a.startedAt)) / float64(duration)
		t = math.Max(0, math.Min(1, t))
		eased := 1 - math.Pow(1-t, 3)
		return clamp(a.cfg.Initial + (a.cfg.Ceiling-a.cfg.Initial)*eased)
	case phaseHolding, phaseFading:
		return 100
	default:
		return 0
	}
}

// Visible reports whether the indicator should be shown at now.
func (a *Aggregator) Visible(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(now)
	return a.phase == phaseRunning || a.phase == phaseHolding
}

// Animating reports whether the value still changes over time.
func (a *Aggregator) Animating(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(now)
	return a.phase != phaseIdle
}

// advance moves the completion phases forward; a.mu must be held.
func (a *Aggregator) advance(now time.Time) {
	switch a.phase {
	case phaseHolding:
		if now.Sub(a.completedAt) >= a.cfg.Hold {
			a.phase = phaseFading
			a.advance(now)
		}
	case phaseFading:
		if now.Sub(a.completedAt) >= a.cfg.Hold+a.cfg.Fade {
			a.phase = phaseIdle
		}
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
