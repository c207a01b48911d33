package circuit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

func TestBreaker_OpensAfterThresholdWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewWithClock(3, 60*time.Second, 30*time.Second, clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Failure()
		clock.Advance(1 * time.Second)
	}

	// Fourth call arrives within the window: rejected without touching the
	// transport.
	err := b.Allow()
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_HalfOpenTrialClosesOnSuccess(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewWithClock(3, 60*time.Second, 30*time.Second, clock)

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	require.Equal(t, Open, b.State())

	clock.Advance(31 * time.Second)

	// Single trial admitted, concurrent calls still rejected.
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen)

	b.Success()
	assert.Equal(t, Closed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenTrialReopensOnFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewWithClock(2, time.Minute, 30*time.Second, clock)

	b.Failure()
	b.Failure()
	clock.Advance(31 * time.Second)

	require.NoError(t, b.Allow())
	b.Failure()

	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen)
}

func TestBreaker_WindowExpiryForgivesOldFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewWithClock(3, 10*time.Second, 30*time.Second, clock)

	b.Failure()
	b.Failure()
	clock.Advance(11 * time.Second)
	b.Failure() // the two old failures fell out of the window

	assert.Equal(t, Closed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_TripAndReset(t *testing.T) {
	b := New(5, time.Minute, 30*time.Second)

	b.Trip()
	assert.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen)

	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.NoError(t, b.Allow())
}
