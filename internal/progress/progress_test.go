package progress

import (
	"testing"

	"github.com/kitaworks/agentcore/pkg/models"
)

func drain(c *Channel) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestStepEventsNotRateLimited(t *testing.T) {
	c := NewChannel(256)
	for i := 0; i < 100; i++ {
		c.Step(models.StepEvent{ToolName: "t", Stage: models.StepStarted})
	}
	if got := len(drain(c)); got != 100 {
		t.Errorf("got %d step events, want all 100", got)
	}
}

func TestStatusRateLimited(t *testing.T) {
	c := NewChannel(256)
	for i := 0; i < 100; i++ {
		c.Status("working")
	}
	// Burst size bounds instantaneous status lines well below the input.
	if got := len(drain(c)); got == 0 || got >= 100 {
		t.Errorf("got %d status events, want a rate-limited subset", got)
	}
}

func TestPushDropsOldestWhenFull(t *testing.T) {
	c := NewChannel(2)
	for i := 0; i < 5; i++ {
		c.Step(models.StepEvent{ToolName: "t", Message: string(rune('a' + i))})
	}
	events := drain(c)
	if len(events) != 2 {
		t.Fatalf("got %d events, want buffer size", len(events))
	}
	// The newest events survive.
	if events[0].Step.Message != "d" || events[1].Step.Message != "e" {
		t.Errorf("kept %q, %q; want the two newest", events[0].Step.Message, events[1].Step.Message)
	}
}

func TestEmitAfterCloseIsDiscarded(t *testing.T) {
	c := NewChannel(4)
	c.Close()
	// Must not panic on a closed channel.
	c.Step(models.StepEvent{ToolName: "t"})
	c.Status("late")

	if _, ok := <-c.Events(); ok {
		t.Error("closed channel still delivered an event")
	}
}

func TestEmptyStatusIgnored(t *testing.T) {
	c := NewChannel(4)
	c.Status("")
	if got := len(drain(c)); got != 0 {
		t.Errorf("empty status emitted %d events", got)
	}
}
