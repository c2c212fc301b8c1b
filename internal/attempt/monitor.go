package attempt

import (
	"sync"
)

// Signal is a window/document event reported by the client.
type Signal string

const (
	SignalCopy              Signal = "copy"
	SignalCut               Signal = "cut"
	SignalContextMenu       Signal = "contextmenu"
	SignalVisibilityHidden  Signal = "visibility_hidden"
	SignalVisibilityVisible Signal = "visibility_visible"
	SignalBlur              Signal = "blur"
	SignalFocus             Signal = "focus"
	SignalFullscreenExit    Signal = "fullscreen_exit"
	SignalFullscreenEnter   Signal = "fullscreen_enter"
)

// ParseSignal validates a wire signal name.
func ParseSignal(raw string) (Signal, bool) {
	switch s := Signal(raw); s {
	case SignalCopy, SignalCut, SignalContextMenu,
		SignalVisibilityHidden, SignalVisibilityVisible,
		SignalBlur, SignalFocus,
		SignalFullscreenExit, SignalFullscreenEnter:
		return s, true
	}
	return "", false
}

const (
	ReasonCheating             = "Quiz terminated: Copying or cheating detected."
	ReasonSwitchedWindow       = "Quiz terminated: Switched window or minimized."
	ReasonExitedFullscreen     = "Quiz terminated: Exited full screen mode."
	ReasonPreviouslyTerminated = "Quiz terminated: You have previously violated quiz rules."
)

// Violation is the monitor's single escalation.
type Violation struct {
	Signal Signal
	Reason string
	// NotifyRemote asks for a best-effort termination notice to the quiz service.
	NotifyRemote bool
}

// SignalSource delivers client signals to subscribers.
type SignalSource interface {
	Subscribe(fn func(Signal)) (unsubscribe func())
}

// SignalBus is an in-process SignalSource; the transport publishes into it.
type SignalBus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Signal)
}

func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[int]func(Signal))}
}

func (b *SignalBus) Subscribe(fn func(Signal)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers sig synchronously. Handlers may unsubscribe while running.
func (b *SignalBus) Publish(sig Signal) {
	b.mu.Lock()
	handlers := make([]func(Signal), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(sig)
	}
}

// Subscribers reports how many listeners are registered.
func (b *SignalBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Monitor turns client signals into at most one Violation per arming.
// While disarmed it holds no subscription on its source.
type Monitor struct {
	source      SignalSource
	onViolation func(Violation)

	mu          sync.Mutex
	unsubscribe func()
	fullscreen  bool
}

func NewMonitor(source SignalSource, onViolation func(Violation)) *Monitor {
	return &Monitor{source: source, onViolation: onViolation}
}

// Start arms the monitor. fullscreenEntered decides whether leaving
// fullscreen counts as a violation.
func (m *Monitor) Start(fullscreenEntered bool) {
	if m.source == nil {
		return
	}
	m.mu.Lock()
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.fullscreen = fullscreenEntered
	m.unsubscribe = m.source.Subscribe(m.handle)
	m.mu.Unlock()
}

// Stop disarms the monitor and removes its subscription.
func (m *Monitor) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Armed reports whether the monitor is listening.
func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribe != nil
}

func (m *Monitor) handle(sig Signal) {
	m.mu.Lock()
	if m.unsubscribe == nil {
		m.mu.Unlock()
		return
	}
	v, ok := classify(sig, m.fullscreen)
	if !ok {
		m.mu.Unlock()
		return
	}
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	unsubscribe()
	m.onViolation(v)
}

func classify(sig Signal, fullscreen bool) (Violation, bool) {
	switch sig {
	case SignalCopy, SignalCut, SignalContextMenu:
		return Violation{Signal: sig, Reason: ReasonCheating, NotifyRemote: true}, true
	case SignalVisibilityHidden, SignalBlur:
		return Violation{Signal: sig, Reason: ReasonSwitchedWindow}, true
	case SignalFullscreenExit:
		if !fullscreen {
			return Violation{}, false
		}
		return Violation{Signal: sig, Reason: ReasonExitedFullscreen}, true
	}
	return Violation{}, false
}
