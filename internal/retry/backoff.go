// Package retry holds the delay policy between unproductive tool attempts.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy returns the wait before retry number attempt (1-based).
type Policy interface {
	NextDelay(attempt int) time.Duration
}

type Fixed time.Duration

func (f Fixed) NextDelay(int) time.Duration { return time.Duration(f) }

type Config struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Minute,
		Multiplier:   2,
		MaxDelay:     time.Hour,
		Jitter:       true,
	}
}

type Exponential struct {
	cfg Config
	rng *rand.Rand
}

func NewExponential(cfg Config, rng *rand.Rand) *Exponential {
	return &Exponential{cfg: cfg, rng: rng}
}

func (e *Exponential) NextDelay(attempt int) time.Duration {
	return NextBackoffDelay(e.cfg, attempt, e.rng)
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
// Jitter scales the delay by a factor in [0.5, 1.5).
func NextBackoffDelay(cfg Config, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Sleep waits for d or until stop is closed. It reports whether the full delay elapsed.
func Sleep(d time.Duration, stop <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}
