// Package ratelimit provides token-bucket rate limiting for progress
// emission and outbound request pacing.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// EventsPerSecond is the sustained emission rate.
	EventsPerSecond float64 `yaml:"events_per_second"`
	// BurstSize is the maximum number of events allowed in a burst.
	BurstSize int `yaml:"burst_size"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		EventsPerSecond: 2.0,
		BurstSize:       4,
	}
}

// Bucket implements token bucket rate limiting.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

// NewBucket creates a new token bucket.
func NewBucket(config Config) *Bucket {
	if config.EventsPerSecond <= 0 {
		config.EventsPerSecond = DefaultConfig().EventsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = int(config.EventsPerSecond * 2)
	}
	return &Bucket{
		tokens:     float64(config.BurstSize),
		maxTokens:  float64(config.BurstSize),
		refillRate: config.EventsPerSecond,
		lastRefill: time.Now(),
	}
}

// Allow reports whether one event may proceed, consuming a token if so.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Gate enforces a minimum interval between emissions. Unlike Bucket it
// never allows bursts; it is the floor behind the decoder's progress
// callbacks.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewGate creates a gate with the given minimum interval.
func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Allow reports whether enough time has passed since the last permitted
// emission, advancing the window if so.
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}
