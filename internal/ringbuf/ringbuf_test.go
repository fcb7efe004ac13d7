package ringbuf

import (
	"sync"
	"testing"
	"time"

	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
)

func TestRing_BasicPushPop(t *testing.T) {
	r := New(4) // rounds to 4

	u1 := model.PriceUpdate{AssetID: "a", Price: money.FromInt(100)}
	u2 := model.PriceUpdate{AssetID: "b", Price: money.FromInt(200)}

	if !r.Push(u1) {
		t.Fatal("push u1 should succeed")
	}
	if !r.Push(u2) {
		t.Fatal("push u2 should succeed")
	}

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.AssetID != "a" {
		t.Fatalf("expected a, got %v ok=%v", got.AssetID, ok)
	}

	got, ok = r.Pop()
	if !ok || got.AssetID != "b" {
		t.Fatalf("expected b, got %v ok=%v", got.AssetID, ok)
	}

	_, ok = r.Pop()
	if ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_Overflow(t *testing.T) {
	r := New(2) // capacity = 2

	r.Push(model.PriceUpdate{AssetID: "1"})
	r.Push(model.PriceUpdate{AssetID: "2"})

	// Buffer is full
	ok := r.Push(model.PriceUpdate{AssetID: "3"})
	if ok {
		t.Fatal("push to full buffer should return false")
	}
	if r.Overflow() != 1 {
		t.Fatalf("expected overflow=1, got %d", r.Overflow())
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New(4)

	// Fill and drain multiple times to test wraparound
	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(model.PriceUpdate{AssetID: "x", Price: money.FromInt(int64(round*10 + i))}) {
				t.Fatalf("round %d push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			u, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d failed", round, i)
			}
			if !u.Price.Equal(money.FromInt(int64(round*10 + i))) {
				t.Fatalf("round %d pop %d: expected price=%d, got %s", round, i, round*10+i, u.Price)
			}
		}
	}
}

func TestRing_SPSC_Concurrent(t *testing.T) {
	const count = 100_000
	r := New(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	// Producer
	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			for !r.Push(model.PriceUpdate{Price: money.FromInt(int64(i))}) {
				// spin-wait (busy loop for test only)
			}
		}
	}()

	// Consumer
	received := make([]model.PriceUpdate, 0, count)
	go func() {
		defer wg.Done()
		for len(received) < count {
			u, ok := r.Pop()
			if ok {
				received = append(received, u)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("SPSC test timed out")
	}

	// Verify ordering
	for i, u := range received {
		if !u.Price.Equal(money.FromInt(int64(i))) {
			t.Fatalf("at index %d: expected %d, got %s", i, i, u.Price)
		}
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
