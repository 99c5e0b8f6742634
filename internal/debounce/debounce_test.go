package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduleCoalescesBurst(t *testing.T) {
	s := New()
	var fired atomic.Int32
	for i := 0; i < 20; i++ {
		s.Schedule("ws-a", 50*time.Millisecond, func() { fired.Add(1) })
	}

	waitFor(t, func() bool { return fired.Load() == 1 })
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected exactly 1 fired action, got %d", got)
	}
	if s.Pending("ws-a") {
		t.Fatal("expected nothing pending after fire")
	}
}

func TestScheduleLastCallWins(t *testing.T) {
	s := New()
	var got atomic.Int32
	s.Schedule("ws-a", 30*time.Millisecond, func() { got.Store(1) })
	s.Schedule("ws-a", 30*time.Millisecond, func() { got.Store(2) })

	waitFor(t, func() bool { return got.Load() != 0 })
	time.Sleep(60 * time.Millisecond)
	if got.Load() != 2 {
		t.Fatalf("expected the last scheduled action to run, got %d", got.Load())
	}
}

func TestKeysAreIsolated(t *testing.T) {
	s := New()
	var firedA, firedB atomic.Int32
	s.Schedule("ws-b", 60*time.Millisecond, func() { firedB.Add(1) })

	// Keep re-arming A well past B's delay; B must still fire on time.
	stop := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(stop) {
		s.Schedule("ws-a", 40*time.Millisecond, func() { firedA.Add(1) })
		time.Sleep(10 * time.Millisecond)
	}
	if firedB.Load() != 1 {
		t.Fatalf("expected ws-b to fire while ws-a was busy, fired %d", firedB.Load())
	}
	if firedA.Load() != 0 {
		t.Fatalf("expected ws-a to still be pending, fired %d", firedA.Load())
	}
	waitFor(t, func() bool { return firedA.Load() == 1 })
}

func TestConcurrentScheduleSameKey(t *testing.T) {
	s := New()
	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Schedule("ws-a", 40*time.Millisecond, func() { fired.Add(1) })
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return fired.Load() >= 1 })
	time.Sleep(80 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected exactly 1 fired action, got %d", got)
	}
}

func TestCancel(t *testing.T) {
	s := New()
	var fired atomic.Int32
	s.Schedule("ws-a", 20*time.Millisecond, func() { fired.Add(1) })
	if !s.Cancel("ws-a") {
		t.Fatal("Cancel() = false, want true")
	}
	if s.Cancel("ws-a") {
		t.Fatal("second Cancel() = true, want false")
	}
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("cancelled action fired")
	}
}

func TestFlushRunsPendingNow(t *testing.T) {
	s := New()
	var fired atomic.Int32
	s.Schedule("ws-a", time.Hour, func() { fired.Add(1) })
	s.Schedule("ws-b", time.Hour, func() { fired.Add(1) })

	s.Flush()
	if fired.Load() != 2 {
		t.Fatalf("expected 2 flushed actions, got %d", fired.Load())
	}
	if s.Pending("ws-a") || s.Pending("ws-b") {
		t.Fatal("expected nothing pending after Flush")
	}
}

func TestStopRefusesNewWork(t *testing.T) {
	s := New()
	var fired atomic.Int32
	s.Schedule("ws-a", 20*time.Millisecond, func() { fired.Add(1) })
	s.Stop()
	s.Schedule("ws-a", 10*time.Millisecond, func() { fired.Add(1) })
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("expected no actions after Stop, got %d", fired.Load())
	}
}
