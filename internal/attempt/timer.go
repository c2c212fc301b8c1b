package attempt

import (
	"sync"
	"time"
)

// Ticker is the scheduling primitive behind the countdown.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker is the production TickerFunc.
func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// Timer counts down once per second and calls onExpire when it reaches zero.
// Stop never blocks, so it is safe to call from inside the callbacks.
type Timer struct {
	newTicker TickerFunc

	mu   sync.Mutex
	stop chan struct{}
}

func NewTimer(newTicker TickerFunc) *Timer {
	if newTicker == nil {
		newTicker = NewStdTicker
	}
	return &Timer{newTicker: newTicker}
}

// Start replaces any running countdown with a new one from seconds.
func (t *Timer) Start(seconds int, onTick func(remaining int), onExpire func()) {
	t.mu.Lock()
	t.stopLocked()
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	go t.run(stop, seconds, onTick, onExpire)
}

// Stop cancels the pending tick. Calling it on a stopped timer is a no-op.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

// Running reports whether a countdown is scheduled.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Timer) stopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Timer) run(stop <-chan struct{}, remaining int, onTick func(int), onExpire func()) {
	if remaining <= 0 {
		if !stopped(stop) {
			onExpire()
		}
		t.release(stop)
		return
	}

	ticker := t.newTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if stopped(stop) {
				return
			}
			remaining--
			onTick(remaining)
			if remaining == 0 {
				if !stopped(stop) {
					onExpire()
				}
				t.release(stop)
				return
			}
		}
	}
}

// release clears the handle once a countdown finished on its own.
func (t *Timer) release(stop <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil && t.stop == stop {
		close(t.stop)
		t.stop = nil
	}
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
