// Package resilience provides reliability patterns for outbound worker calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

// Breaker is a circuit breaker guarding worker dispatch. It opens after
// maxFailures consecutive failures and stays open for cooldown before
// letting a probe call through.
type Breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	clock       func() time.Time
}

// NewBreaker creates a Breaker with the given failure threshold and
// open-state cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		clock:       time.Now,
	}
}

// Call runs fn unless the circuit is open, and feeds the result back into
// the breaker. An open circuit returns ErrCircuitOpen without calling fn.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()
	if b.state == open {
		if b.clock().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = halfOpen
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == halfOpen || b.failures >= b.maxFailures {
			b.state = open
			b.openedAt = b.clock()
		}
		return err
	}
	b.failures = 0
	b.state = closed
	return nil
}
