package redis

import (
	"testing"
	"time"
)

func TestCacheForwardsBreakerTransitions(t *testing.T) {
	c := &Cache{cb: NewCircuitBreaker(1, time.Minute)}
	c.bindBreaker()

	var got []State
	c.OnBreakerChange = func(_, to State) { got = append(got, to) }

	c.cb.Execute(func() error { return errFail })

	if len(got) != 1 || got[0] != StateOpen {
		t.Errorf("expected [open], got %v", got)
	}
}

func TestCacheBreakerHookIsOptional(t *testing.T) {
	c := &Cache{cb: NewCircuitBreaker(1, time.Minute)}
	c.bindBreaker()

	// No OnBreakerChange set; tripping must not panic.
	c.cb.Execute(func() error { return errFail })

	if c.cb.CurrentState() != StateOpen {
		t.Errorf("expected open, got %v", c.cb.CurrentState())
	}
}
