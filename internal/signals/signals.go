// Package signals turns host termination requests into a small set of kinds
// the watch lifecycle understands.
package signals

import "sync"

type Kind int

const (
	Interrupt Kind = iota + 1
	Terminate
	Hangup
	// Break is acknowledged but never stops the watch.
	Break
)

func (k Kind) String() string {
	switch k {
	case Interrupt:
		return "interrupt"
	case Terminate:
		return "terminate"
	case Hangup:
		return "hangup"
	case Break:
		return "break"
	default:
		return "unknown"
	}
}

// IsShutdown reports whether k asks the process to stop.
func (k Kind) IsShutdown() bool {
	return k == Interrupt || k == Terminate || k == Hangup
}

type Handler func(Kind)

type Subscriber interface {
	Subscribe(h Handler) (unsubscribe func())
}

// Manual is a Subscriber driven by Fire. Useful when signals come from
// somewhere other than the OS, and in tests.
type Manual struct {
	mu       sync.Mutex
	next     int
	handlers map[int]Handler
}

func NewManual() *Manual {
	return &Manual{handlers: make(map[int]Handler)}
}

func (m *Manual) Subscribe(h Handler) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.handlers[id] = h
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// Fire calls every current handler synchronously.
func (m *Manual) Fire(k Kind) {
	m.mu.Lock()
	hs := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	for _, h := range hs {
		h(k)
	}
}

func (m *Manual) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}
