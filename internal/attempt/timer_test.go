package attempt_test

import (
	"sync"
	"testing"
	"time"

	"proctor-quiz-service/internal/attempt"
)

func TestTimerCountsDownAndExpiresOnce(t *testing.T) {
	ticks := newManualTicks()
	timer := attempt.NewTimer(ticks.Func())

	var mu sync.Mutex
	var seen []int
	expired := make(chan struct{}, 2)
	timer.Start(3,
		func(r int) {
			mu.Lock()
			seen = append(seen, r)
			mu.Unlock()
		},
		func() { expired <- struct{}{} },
	)

	for i := 0; i < 3; i++ {
		ticks.tick(t)
	}
	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatalf("expected expiry")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != 2 || seen[1] != 1 || seen[2] != 0 {
		t.Fatalf("expected 2,1,0 got %v", seen)
	}
	ticks.assertStopped(t)
	if timer.Running() {
		t.Fatalf("timer must release itself after expiry")
	}
	if len(expired) != 0 {
		t.Fatalf("expiry fired twice")
	}
}

func TestTimerStopPreventsExpiry(t *testing.T) {
	ticks := newManualTicks()
	timer := attempt.NewTimer(ticks.Func())
	expired := make(chan struct{}, 1)

	timer.Start(2, func(int) {}, func() { expired <- struct{}{} })
	ticks.tick(t)
	timer.Stop()
	timer.Stop()

	ticks.assertStopped(t)
	select {
	case <-expired:
		t.Fatalf("stopped timer must not expire")
	default:
	}
}

func TestTimerZeroExpiresImmediately(t *testing.T) {
	timer := attempt.NewTimer(newManualTicks().Func())
	expired := make(chan struct{}, 1)
	timer.Start(0, func(int) { t.Errorf("no tick expected") }, func() { expired <- struct{}{} })

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatalf("expected immediate expiry")
	}
}

func TestTimerRestartReplacesCountdown(t *testing.T) {
	ticks := newManualTicks()
	timer := attempt.NewTimer(ticks.Func())

	first := make(chan int, 4)
	second := make(chan int, 4)
	timer.Start(5, func(r int) { first <- r }, func() {})
	timer.Start(10, func(r int) { second <- r }, func() {})

	// Let the first countdown observe its stop before ticking.
	time.Sleep(20 * time.Millisecond)
	ticks.tick(t)
	select {
	case r := <-second:
		if r != 9 {
			t.Fatalf("expected 9, got %d", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected tick on replacement countdown")
	}
	if len(first) != 0 {
		t.Fatalf("replaced countdown must not tick")
	}
	timer.Stop()
}
