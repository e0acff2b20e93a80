package messaging

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy задает задержку между попытками переподключения:
// Initial * Multiplier^(attempt-1), не больше Max, плюс случайный джиттер [0, Jitter].
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     time.Duration
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     500 * time.Millisecond,
	}
}

// FixedBackoff повторяет попытки с постоянной задержкой и без джиттера.
func FixedBackoff(delay time.Duration) BackoffPolicy {
	return BackoffPolicy{Initial: delay, Max: delay, Multiplier: 1}
}

func (p BackoffPolicy) Delay(attempt int) time.Duration {
	return p.base(attempt) + p.jitter()
}

func (p BackoffPolicy) base(attempt int) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	d := float64(p.Initial) * math.Pow(multiplier, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p BackoffPolicy) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(p.Jitter) + 1)) //nolint:gosec
}
