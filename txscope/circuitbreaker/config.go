package circuitbreaker

import "time"

// Config holds circuit breaker configuration.
type Config struct {
	// MaxRequests is the number of probes allowed through while half-open.
	MaxRequests uint32 `env:"TXSCOPE_BREAKER_MAX_REQUESTS"`
	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval time.Duration `env:"TXSCOPE_BREAKER_INTERVAL"`
	// Timeout is how long the breaker stays open before going half-open.
	Timeout             time.Duration `env:"TXSCOPE_BREAKER_TIMEOUT"`
	ConsecutiveFailures uint32        `env:"TXSCOPE_BREAKER_CONSECUTIVE_FAILURES"`
	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32 `env:"TXSCOPE_BREAKER_MIN_REQUESTS"`
}

// DefaultConfig is tuned for database connections: tolerant of short
// network blips, slow to trip on a handful of failures.
func DefaultConfig() Config {
	return Config{
		MaxRequests:         5,
		Interval:            3 * time.Minute,
		Timeout:             45 * time.Second,
		ConsecutiveFailures: 20,
		FailureRatio:        0.6,
		MinRequests:         15,
	}
}

// AggressiveConfig trips quickly, for callers that prefer failing fast.
func AggressiveConfig() Config {
	return Config{
		MaxRequests:         2,
		Interval:            1 * time.Minute,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.4,
		MinRequests:         5,
	}
}

func (c Config) readyToTrip(counts countsView) bool {
	if c.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= c.ConsecutiveFailures {
		return true
	}

	if counts.Requests == 0 || counts.Requests < c.MinRequests || c.FailureRatio <= 0 {
		return false
	}

	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

type countsView struct {
	Requests            uint32
	TotalFailures       uint32
	ConsecutiveFailures uint32
}
