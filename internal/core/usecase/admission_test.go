package usecase

import (
	"sync"
	"testing"
)

func TestAdmissionRejectsBeyondLimit(t *testing.T) {
	a := NewAdmissionController(1)
	release, ok := a.TryAcquire()
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	if _, ok := a.TryAcquire(); ok {
		t.Fatalf("expected second acquire to be rejected")
	}
	if a.InFlight() != 1 || a.Limit() != 1 {
		t.Fatalf("unexpected counters in_flight=%d limit=%d", a.InFlight(), a.Limit())
	}
	release()
	release()
	if a.InFlight() != 0 {
		t.Fatalf("expected idempotent release, in_flight=%d", a.InFlight())
	}
	if _, ok := a.TryAcquire(); !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestAdmissionConcurrentAcquireNeverExceedsLimit(t *testing.T) {
	const limit = 4
	a := NewAdmissionController(limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	releases := make([]func(), 0, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok := a.TryAcquire(); ok {
				mu.Lock()
				admitted++
				releases = append(releases, release)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != limit {
		t.Fatalf("expected %d admitted, got %d", limit, admitted)
	}
	for _, r := range releases {
		r()
	}
	if a.InFlight() != 0 {
		t.Fatalf("expected all slots released, got %d", a.InFlight())
	}
}
