package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUntilSucceeds(t *testing.T) {
	t.Parallel()

	n := 0
	err := Until(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		n++
		return n == 3, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUntilTimesOut(t *testing.T) {
	t.Parallel()

	err := Until(context.Background(), time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestUntilCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Until(ctx, time.Hour, 0, func(context.Context) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUntilConditionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("instance terminated")
	err := Until(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}
