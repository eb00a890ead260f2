package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreakerForgetsOutcomesOutsideWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker(4, 0.5, time.Minute).WithWindow(10 * time.Second)
	b.now = clock.now
	ctx := context.Background()

	b.Report(ctx, false)
	b.Report(ctx, false)
	b.Report(ctx, false)
	require.Equal(t, Closed, b.State())

	clock.advance(11 * time.Second)
	b.Report(ctx, false)
	require.Equal(t, Closed, b.State(), "old failures left the window")

	b.Report(ctx, true)
	b.Report(ctx, false)
	b.Report(ctx, false)
	require.Equal(t, Open, b.State())
}

func TestBreakerStaysClosedBelowRatio(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker(4, 0.5, time.Minute)
	b.now = clock.now
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		b.Report(ctx, i%4 != 0)
		clock.advance(time.Second)
	}
	require.Equal(t, Closed, b.State())
}

func TestBreakerCoolOffUsesClock(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker(1, 0.5, 30*time.Second)
	b.now = clock.now
	ctx := context.Background()

	b.Report(ctx, false)
	require.False(t, b.Allow(ctx))
	clock.advance(29 * time.Second)
	require.False(t, b.Allow(ctx))
	clock.advance(time.Second)
	require.True(t, b.Allow(ctx))
	require.Equal(t, HalfOpen, b.State())
}
