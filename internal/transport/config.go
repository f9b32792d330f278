package transport

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	// ResetAfter is how long a connection must stay up before the attempt
	// count starts over.
	ResetAfter time.Duration
}

// Config defines link timeouts and queue bounds.
type Config struct {
	DeviceID       string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	QueueLimit     int
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   2 * time.Second,
		SendBuffer:     64,
		QueueLimit:     16,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
			ResetAfter:   10 * time.Second,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = def.QueueLimit
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	if c.Backoff.ResetAfter <= 0 {
		c.Backoff.ResetAfter = def.Backoff.ResetAfter
	}
	return c
}

// NextAttempt returns the attempt number to back off with after a
// connection that stayed up for lived.
func (b BackoffConfig) NextAttempt(attempt int, lived time.Duration) int {
	if lived >= b.ResetAfter {
		return 1
	}
	return attempt + 1
}

// Delay returns the wait before reconnect attempt N (1-based).
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || b.InitialDelay <= 0 {
		return b.InitialDelay
	}
	mult := b.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
