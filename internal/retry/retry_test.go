package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockfetch/internal/clock"
	"stockfetch/internal/retry"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		base    time.Duration
		want    time.Duration
	}{
		{attempt: 0, base: 5 * time.Second, want: 0},
		{attempt: 1, base: 5 * time.Second, want: 5 * time.Second},
		{attempt: 2, base: 5 * time.Second, want: 10 * time.Second},
		{attempt: 3, base: 5 * time.Second, want: 20 * time.Second},
		{attempt: 4, base: 5 * time.Second, want: 40 * time.Second},
		{attempt: 3, base: 0, want: 0},
	}
	for _, tt := range tests {
		require.Equalf(t, tt.want, retry.Backoff(tt.attempt, tt.base), "attempt=%d base=%s", tt.attempt, tt.base)
	}
}

func TestPolicy_DelayCapped(t *testing.T) {
	t.Parallel()

	p := retry.Policy{MaxAttempts: 5, Base: 5 * time.Second, Max: 15 * time.Second}
	require.Equal(t, 10*time.Second, p.Delay(2))
	require.Equal(t, 15*time.Second, p.Delay(3))
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Unix(0, 0))
	calls := 0
	attempts, err := retry.Do(t.Context(), retry.Policy{MaxAttempts: 5, Base: time.Second}, fc, func(int) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fc.Sleeps())
}

func TestDo_Exhausted(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Unix(0, 0))
	boom := errors.New("boom")
	var retried []int
	attempts, err := retry.Do(t.Context(), retry.Policy{MaxAttempts: 3, Base: 5 * time.Second}, fc,
		func(int) error { return boom },
		func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) })

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, attempts)
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, []int{1, 2}, retried)
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, fc.Sleeps())
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Unix(0, 0))
	boom := errors.New("not found")
	attempts, err := retry.Do(t.Context(), retry.Policy{MaxAttempts: 5, Base: time.Second}, fc,
		func(int) error { return retry.Permanent(boom) }, nil)

	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, attempts)
	require.Empty(t, fc.Sleeps())
}
