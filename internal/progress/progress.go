// Package progress is the live status channel between the agent core and a
// connected client. Decoder status strings and tool step events are pushed
// through a bounded queue with rate-limited, non-blocking emission so a slow
// consumer can never stall a decode pass or a running tool.
package progress

import (
	"sync"
	"time"

	"github.com/kitaworks/agentcore/internal/ratelimit"
	"github.com/kitaworks/agentcore/pkg/models"
)

// Event is one entry on the progress channel: either a human-readable
// status line or a structured tool step event.
type Event struct {
	// Status is a short human-readable status string (decoder previews,
	// loop phase changes). Empty when Step is set.
	Status string `json:"status,omitempty"`

	// Step is a structured tool step event. Nil when Status is set.
	Step *models.StepEvent `json:"step,omitempty"`

	Time time.Time `json:"time"`
}

// Channel is a bounded, rate-limited progress queue. Emission never blocks:
// when the buffer is full the oldest pending event is dropped, since stale
// progress has no value to a live client.
type Channel struct {
	mu     sync.Mutex
	events chan Event
	bucket *ratelimit.Bucket
	closed bool
}

const defaultBuffer = 64

// NewChannel creates a progress channel with the given buffer size.
// A size of 0 uses the default.
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Channel{
		events: make(chan Event, buffer),
		bucket: ratelimit.NewBucket(ratelimit.Config{EventsPerSecond: 10, BurstSize: 20}),
	}
}

// Events returns the receive side of the channel.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Status pushes a human-readable status line. Rate-limited; excess lines
// are dropped.
func (c *Channel) Status(text string) {
	if text == "" || !c.bucket.Allow() {
		return
	}
	c.push(Event{Status: text, Time: time.Now()})
}

// Step pushes a structured tool step event. Step events are not rate
// limited: tools already emit them sparsely and each one is meaningful.
func (c *Channel) Step(ev models.StepEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	c.push(Event{Step: &ev, Time: ev.Time})
}

func (c *Channel) push(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		// Buffer full: drop the oldest pending event and retry.
		select {
		case <-c.events:
		default:
		}
	}
}

// Close closes the channel. Subsequent emissions are discarded.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

// StepEmitter is the narrow interface handed to tools for sub-progress
// reporting.
type StepEmitter interface {
	Step(ev models.StepEvent)
}

// NopEmitter discards all step events. Used when no client is attached.
type NopEmitter struct{}

func (NopEmitter) Step(models.StepEvent) {}
