package utils

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestIDSetNoDuplicates(t *testing.T) {
	s := NewIDSet()

	added := s.Add("a1")
	if !added {
		t.Error("first Add should return true")
	}

	added = s.Add("a1")
	if added {
		t.Error("second Add of same id should return false")
	}

	if !s.Add("a2") {
		t.Error("Add of a different id should return true")
	}
}

func TestIDSetConcurrency(t *testing.T) {
	s := NewIDSet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		pool.Submit(func() {
			if s.Add("same") {
				atomic.AddInt64(&added, 1)
			}
		})
	}
	pool.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestWorkerPoolRateLimit(t *testing.T) {
	interval := 100 * time.Millisecond
	pool := NewWorkerPool(1, interval)

	var (
		mu         sync.Mutex
		timestamps []time.Time
	)
	for i := 0; i < 3; i++ {
		pool.Submit(func() {
			mu.Lock()
			timestamps = append(timestamps, time.Now())
			mu.Unlock()
		})
	}
	pool.Wait()

	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < interval {
			t.Errorf("gap between job %d and %d: %v < minimum %v", i-1, i, gap, interval)
		}
	}
}

func TestPacerFirstEventNotDelayed(t *testing.T) {
	p := NewPacer(time.Second)
	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first Wait took %v, want immediate", elapsed)
	}
}

func TestPacerSpacesConsecutiveEvents(t *testing.T) {
	p := NewPacer(50 * time.Millisecond)
	ctx := context.Background()

	_ = p.Wait(ctx)
	start := time.Now()
	_ = p.Wait(ctx)
	if gap := time.Since(start); gap < 40*time.Millisecond {
		t.Errorf("second Wait returned after %v, want >= ~50ms", gap)
	}
}

func TestPacerHonoursCancellation(t *testing.T) {
	p := NewPacer(time.Hour)
	_ = p.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Error("Wait on cancelled context should fail")
	}
}

func TestPacerCancelledWaitIsNotAnEvent(t *testing.T) {
	p := NewPacer(80 * time.Millisecond)
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("Wait with a short deadline should fail")
	}

	// The abandoned wait must not push the next slot further out.
	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("third Wait: %v", err)
	}
	if gap := time.Since(start); gap > 120*time.Millisecond {
		t.Errorf("third Wait took %v, want at most one interval", gap)
	}
}

func TestPacerDisabled(t *testing.T) {
	p := NewPacer(0)
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("disabled pacer waited %v", elapsed)
	}
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := Jitter(time.Second, 4*time.Second)
		if d < time.Second || d > 4*time.Second {
			t.Fatalf("Jitter out of range: %v", d)
		}
	}
	if d := Jitter(2*time.Second, time.Second); d != 2*time.Second {
		t.Errorf("Jitter with max < min: got %v, want min", d)
	}
}
