package retryx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func fastPolicy(attempts uint) Policy {
	return Policy{Attempts: attempts, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retried []uint

	got, err := Do(context.Background(), fastPolicy(3), nil,
		func(n uint, err error) { retried = append(retried, n) },
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errTransient
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []uint{0, 1}, retried)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5),
		func(err error) bool { return errors.Is(err, errTransient) },
		nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errFatal
		})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsBudgetAndReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), nil, nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errTransient
		})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDo_ZeroAttemptsMeansOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, nil, nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errTransient
		})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_AppliesAttemptTimeout(t *testing.T) {
	p := fastPolicy(1)
	p.AttemptTimeout = 50 * time.Millisecond

	_, err := Do(context.Background(), p, nil, nil,
		func(ctx context.Context) (int, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok, "attempt context must carry a deadline")
			assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)
			return 1, nil
		})

	require.NoError(t, err)
}
