package llm

import (
	"sync"
	"time"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
)

// Breaker is the circuit breaker around LLM calls. Closed passes calls
// through; failureThreshold consecutive failures open it; after the cool-down
// the next call is let through as an implicit half-open probe whose outcome
// decides the state. Safe for concurrent use within one process.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	timeout          time.Duration

	open                bool
	openedAt            time.Time
	consecutiveFailures int

	totalCalls     uint64
	totalSuccesses uint64
	totalFailures  uint64
	totalDenied    uint64

	now func() time.Time
}

// NewBreaker builds a closed breaker from config.
func NewBreaker(cfg config.BreakerConfig) *Breaker {
	return &Breaker{
		failureThreshold: cfg.FailureThreshold,
		timeout:          cfg.Timeout,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. While open and inside the
// cool-down it denies immediately; once the cool-down has elapsed the next
// call is allowed through as the half-open probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.timeout {
		return true
	}
	b.totalDenied++
	return false
}

// RecordSuccess closes the breaker and resets the consecutive-failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.totalSuccesses++
	b.consecutiveFailures = 0
	b.open = false
}

// RecordFailure counts a failure. A failed half-open probe restarts the
// cool-down; reaching the threshold while closed opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.totalFailures++
	b.consecutiveFailures++

	if b.open {
		b.openedAt = b.now()
		return
	}
	if b.consecutiveFailures >= b.failureThreshold {
		b.open = true
		b.openedAt = b.now()
	}
}

// BreakerStats is the exported counter snapshot.
type BreakerStats struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalCalls          uint64 `json:"total_calls"`
	TotalSuccesses      uint64 `json:"total_successes"`
	TotalFailures       uint64 `json:"total_failures"`
	TotalDenied         uint64 `json:"total_denied"`
}

// Stats returns a consistent snapshot of the breaker counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := "closed"
	if b.open {
		state = "open"
		if b.now().Sub(b.openedAt) >= b.timeout {
			state = "half_open"
		}
	}
	return BreakerStats{
		State:               state,
		ConsecutiveFailures: b.consecutiveFailures,
		TotalCalls:          b.totalCalls,
		TotalSuccesses:      b.totalSuccesses,
		TotalFailures:       b.totalFailures,
		TotalDenied:         b.totalDenied,
	}
}
