// Package valence is the kernel's optional mood model: a bounded [-1,1]
// value nudged by ReAct events, exposed as a retry-tolerance multiplier
// (RetryBias) that no kernel component reads, and never required for
// correctness (spec.md §9 design note). It is off
// by default; nothing in the orchestrator breaks if a Bus is never
// created or never wired in.
package valence

import "sync"

// EventKind is the closed set of ReAct events that move mood.
type EventKind string

const (
	EventActionSucceeded  EventKind = "action-succeeded"
	EventActionFailed     EventKind = "action-failed"
	EventObstructionFound EventKind = "obstruction-detected"
	EventCircuitOpened    EventKind = "circuit-opened"
	EventCaptchaEscalated EventKind = "captcha-escalated"
)

// Handler observes an event after it has already been folded into mood.
type Handler func(kind EventKind, data any, mood float64)

// weight is how much one occurrence of a kind moves mood, before clamping.
var weight = map[EventKind]float64{
	EventActionSucceeded:  0.03,
	EventActionFailed:     -0.05,
	EventObstructionFound: -0.02,
	EventCircuitOpened:    -0.20,
	EventCaptchaEscalated: -0.10,
}

// Bus is an instance-scoped event bus plus the mood value it maintains.
// Unlike the teacher's package-level lifecycle.Manager, Bus is
// constructed and injected explicitly — one per agent run, never a
// process-global — so concurrent goal runs never share mood state.
type Bus struct {
	mu       sync.RWMutex
	mood     float64
	handlers map[EventKind][]Handler
	Logf     func(format string, args ...any) // optional; nil disables logging
}

// New returns a Bus with neutral (0) starting mood.
func New() *Bus {
	return &Bus{handlers: make(map[EventKind][]Handler)}
}

// On registers a handler invoked synchronously whenever kind is emitted.
func (b *Bus) On(kind EventKind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Emit folds one occurrence of kind into mood, then dispatches registered
// handlers with the updated value. Unknown kinds move mood by 0.
func (b *Bus) Emit(kind EventKind, data any) {
	b.mu.Lock()
	b.mood = clamp(b.mood + weight[kind])
	mood := b.mood
	handlers := append([]Handler(nil), b.handlers[kind]...)
	b.mu.Unlock()

	if b.Logf != nil {
		b.Logf("[valence] %s -> mood=%.3f", kind, mood)
	}
	for _, h := range handlers {
		h(kind, data, mood)
	}
}

// Mood returns the current bounded mood value.
func (b *Bus) Mood() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mood
}

// RetryBias maps mood onto a multiplier the reliability fabric may apply
// to its attempt budget: a sour mood shortens patience, a good one
// lengthens it slightly. Range is [0.8, 1.2]; callers that never consult
// this get the fabric's unmodified default behavior (spec.md's "never
// required for correctness").
func (b *Bus) RetryBias() float64 {
	return 1.0 + 0.2*b.Mood()
}

func clamp(m float64) float64 {
	if m < -1 {
		return -1
	}
	if m > 1 {
		return 1
	}
	return m
}

func (k EventKind) String() string { return string(k) }
