package expiry

import (
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	mockClock := clock.NewMockClock(time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC))
	now := mockClock.Now()

	in5Days := &certwatch.Certificate{Alias: "in-5-days", NotAfter: now.AddDate(0, 0, 5)}

	t.Run("within threshold", func(t *testing.T) {
		got := Select(now, []*certwatch.Certificate{in5Days}, 10)
		require.Equal(t, []*certwatch.Certificate{in5Days}, got)
	})

	t.Run("beyond threshold", func(t *testing.T) {
		got := Select(now, []*certwatch.Certificate{in5Days}, 3)
		require.Empty(t, got)
	})

	t.Run("boundary is inclusive", func(t *testing.T) {
		for _, n := range []int{0, 1, 7, 31, 365} {
			c := &certwatch.Certificate{Alias: "boundary", NotAfter: now.AddDate(0, 0, n)}
			require.Len(t, Select(now, []*certwatch.Certificate{c}, n), 1, "threshold %d", n)
			if n > 0 {
				require.Empty(t, Select(now, []*certwatch.Certificate{c}, n-1), "threshold %d", n-1)
			}
		}
	})

	t.Run("day granularity", func(t *testing.T) {
		// expires late on the last day of the window, after the current time of day
		lateOnLastDay := &certwatch.Certificate{Alias: "late", NotAfter: time.Date(2024, 3, 20, 23, 59, 0, 0, time.UTC)}
		require.Len(t, Select(now, []*certwatch.Certificate{lateOnLastDay}, 10), 1)
		require.Empty(t, Select(now, []*certwatch.Certificate{lateOnLastDay}, 9))
	})

	t.Run("already expired", func(t *testing.T) {
		expired := &certwatch.Certificate{Alias: "expired", NotAfter: now.AddDate(0, -2, 0)}
		require.Len(t, Select(now, []*certwatch.Certificate{expired}, 0), 1)
	})

	t.Run("keeps order and does not modify input", func(t *testing.T) {
		a := &certwatch.Certificate{Alias: "a", NotAfter: now.AddDate(0, 0, 2)}
		b := &certwatch.Certificate{Alias: "b", NotAfter: now.AddDate(1, 0, 0)}
		c := &certwatch.Certificate{Alias: "c", NotAfter: now.AddDate(0, 0, 1)}
		in := []*certwatch.Certificate{a, b, c}
		got := Select(now, in, 30)
		require.Equal(t, []*certwatch.Certificate{a, c}, got)
		require.Equal(t, []*certwatch.Certificate{a, b, c}, in)
	})

	t.Run("month boundaries", func(t *testing.T) {
		endOfJan := time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC)
		c := &certwatch.Certificate{Alias: "feb", NotAfter: time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC)}
		require.Len(t, Select(endOfJan, []*certwatch.Certificate{c}, 1), 1)
		require.Empty(t, Select(endOfJan, []*certwatch.Certificate{c}, 0))
	})
}

func TestLimit(t *testing.T) {
	now := time.Date(2024, 2, 28, 13, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Limit(now, 2))
}
