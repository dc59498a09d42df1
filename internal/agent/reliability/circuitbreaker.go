package reliability

import (
	"net/url"
	"sync"
	"time"

	"github.com/ternlabs/tern/internal/agent/types"
)

// failureWindow bounds how far back consecutive failures still count
// toward tripping the breaker; a failure older than this resets the streak,
// mirroring the teacher's stale-error-count reset pattern.
const failureWindow = 30 * time.Second

// CircuitBreaker tracks per-domain health and short-circuits calls to a
// domain that has failed repeatedly in a short window. One success closes
// a tripped circuit immediately.
type CircuitBreaker struct {
	mu              sync.Mutex
	states          map[string]*types.CircuitState
	failureThreshold int
	coolOff         time.Duration
	opens           int // process-wide counter for observability
}

// NewCircuitBreaker builds a breaker that opens after failureThreshold
// consecutive failures to the same domain within failureWindow, and stays
// open for coolOff.
func NewCircuitBreaker(failureThreshold int, coolOff time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:           make(map[string]*types.CircuitState),
		failureThreshold: failureThreshold,
		coolOff:          coolOff,
	}
}

// Allow reports whether a call to domain may proceed. It returns false
// while the circuit is open.
func (b *CircuitBreaker) Allow(domain string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[domain]
	if !ok {
		return true
	}
	return time.Now().After(st.CoolOffUntil)
}

// RecordSuccess closes the circuit for domain immediately.
func (b *CircuitBreaker) RecordSuccess(domain string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, domain)
}

// RecordFailure registers a failure against domain, tripping the circuit
// once failureThreshold consecutive failures land within failureWindow.
// Returns true if this failure opened the circuit.
func (b *CircuitBreaker) RecordFailure(domain string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	st, ok := b.states[domain]
	if !ok || now.Sub(st.LastErrorAt) > failureWindow {
		st = &types.CircuitState{Domain: domain, FirstErrorAt: now}
		b.states[domain] = st
	}
	st.ConsecutiveErrors++
	st.LastErrorAt = now

	if st.ConsecutiveErrors >= b.failureThreshold && st.CoolOffUntil.Before(now) {
		st.CoolOffUntil = now.Add(b.coolOff)
		b.opens++
		return true
	}
	return false
}

// State returns a copy of the tracked state for domain, for diagnostics.
func (b *CircuitBreaker) State(domain string) (types.CircuitState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[domain]
	if !ok {
		return types.CircuitState{}, false
	}
	return *st, true
}

// Opens returns the process-wide count of circuit trips.
func (b *CircuitBreaker) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// DomainOf extracts the comparison key the breaker tracks: the request
// host, lowercased, with any port stripped. Malformed URLs fall back to
// the raw string so a bad URL still gets its own bucket.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}
