package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian-sync/internal/shared/clock"
)

func newTestBreaker(settings Settings) (*Breaker, *clock.FakeClock) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	return NewWithClock("remote-api", settings, clk), clk
}

func fail(b *Breaker) error {
	_, err := b.Execute(func() (interface{}, error) {
		return nil, errors.New("remote call failed")
	})
	return err
}

func succeed(b *Breaker) error {
	_, err := b.Execute(func() (interface{}, error) {
		return "ok", nil
	})
	return err
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b, _ := newTestBreaker(Settings{})

	for i := 0; i < 5; i++ {
		require.NoError(t, succeed(b))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Settings{
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	for i := 0; i < 3; i++ {
		assert.Error(t, fail(b))
	}
	assert.Equal(t, StateOpen, b.State())

	// While open, calls are rejected without running.
	ran := false
	_, err := b.Execute(func() (interface{}, error) {
		ran = true
		return "ok", nil
	})
	assert.Equal(t, ErrCircuitOpen, err)
	assert.False(t, ran)
}

func TestBreakerCounts(t *testing.T) {
	b, _ := newTestBreaker(Settings{})

	require.NoError(t, succeed(b))

	counts := b.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)

	assert.Error(t, fail(b))

	counts = b.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b, clk := newTestBreaker(Settings{
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	fail(b)
	fail(b)
	require.Equal(t, StateOpen, b.State())

	clk.Advance(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// Enough successful probes close the breaker again.
	require.NoError(t, succeed(b))
	require.NoError(t, succeed(b))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	fail(b)
	require.Equal(t, StateOpen, b.State())

	clk.Advance(31 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	fail(b)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenProbeBudget(t *testing.T) {
	b, clk := newTestBreaker(Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	fail(b)
	clk.Advance(31 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	// Occupy the single probe slot without completing it.
	started := make(chan struct{})
	release := make(chan struct{})
	go b.Execute(func() (interface{}, error) {
		close(started)
		<-release
		return "ok", nil
	})
	<-started

	_, err := b.Execute(func() (interface{}, error) { return "ok", nil })
	assert.Equal(t, ErrTooManyRequests, err)
	close(release)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	b := NewWithClock("remote-api", Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}, clk)

	fail(b)
	fail(b)
	clk.Advance(31 * time.Second)
	_ = b.State() // forces the open->half-open check

	assert.Contains(t, transitions, "closed->open")
	assert.Contains(t, transitions, "open->half-open")
}
