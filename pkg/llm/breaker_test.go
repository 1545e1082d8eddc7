package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
)

func newTestBreaker(threshold int, timeout time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(config.BreakerConfig{FailureThreshold: threshold, Timeout: timeout})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		assert.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.True(t, b.Allow(), "still closed below threshold")

	b.RecordFailure()
	assert.False(t, b.Allow(), "third consecutive failure opens the breaker")
	assert.Equal(t, "open", b.Stats().State)
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.Allow())

	*now = now.Add(59 * time.Second)
	assert.False(t, b.Allow(), "cool-down not elapsed")

	*now = now.Add(2 * time.Second)
	assert.True(t, b.Allow(), "next call after cool-down is the probe")
	assert.Equal(t, "half_open", b.Stats().State)
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	*now = now.Add(2 * time.Minute)

	assert.True(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, "closed", b.Stats().State)
	assert.Equal(t, 0, b.Stats().ConsecutiveFailures)
	assert.True(t, b.Allow())
}

func TestBreakerProbeFailureRestartsCooldown(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	*now = now.Add(2 * time.Minute)

	assert.True(t, b.Allow())
	b.RecordFailure()

	assert.False(t, b.Allow(), "probe failure reopens immediately")
	*now = now.Add(59 * time.Second)
	assert.False(t, b.Allow(), "cool-down restarted from the probe failure")
	*now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow(), "success in between resets the consecutive count")

	b.RecordFailure()
	assert.False(t, b.Allow())
}

func TestBreakerStatsCounters(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	b.Allow() // denied

	s := b.Stats()
	assert.Equal(t, uint64(3), s.TotalCalls)
	assert.Equal(t, uint64(1), s.TotalSuccesses)
	assert.Equal(t, uint64(2), s.TotalFailures)
	assert.Equal(t, uint64(1), s.TotalDenied)
}
