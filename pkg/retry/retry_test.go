package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Transient(errors.New("503 from upstream"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAfterMaxAttempts(t *testing.T) {
	cause := errors.New("still down")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(4), func(ctx context.Context) (int, error) {
		calls++
		return 0, Transient(cause)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 4, calls)
}

func TestDo_TerminalOutcomesAreNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome Outcome
	}{
		{"fatal", Permanent(errors.New("bad request")), Fatal},
		{"blocked", Refused(errors.New("bot was blocked by the user")), Blocked},
		{"untagged", errors.New("something odd"), Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) (struct{}, error) {
				calls++
				return struct{}{}, tt.err
			})

			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.outcome, OutcomeOf(err))
		})
	}
}

func TestDo_HonoursRetryAfter(t *testing.T) {
	cause := errors.New("Too Many Requests: retry after 1")
	var waits []time.Duration
	p := fastPolicy(2)
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		assert.ErrorIs(t, err, cause)
		waits = append(waits, wait)
	}

	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, After(50*time.Millisecond, cause)
		}
		return 1, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, waits, 1)
	assert.Equal(t, 50*time.Millisecond, waits[0])
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDo_ExhaustedRetryAfterReturnsOriginalError(t *testing.T) {
	cause := errors.New("rate limited")
	_, err := Do(context.Background(), fastPolicy(1), func(ctx context.Context) (int, error) {
		return 0, After(time.Second, cause)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, RetryAfter, OutcomeOf(err))
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	calls := 0
	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, Transient(errors.New("flaky"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClassify_NetworkErrorsAreRetryable(t *testing.T) {
	var netErr error = &timeoutErr{}
	assert.Equal(t, Retryable, Classify(netErr).Outcome)
	assert.Equal(t, Fatal, Classify(context.Canceled).Outcome)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
