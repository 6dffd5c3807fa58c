package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAwaitCallReturnsCallError(t *testing.T) {
	wantErr := errors.New("chat not found")
	err := awaitCall(context.Background(), func() error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	err = awaitCall(context.Background(), func() error { return nil })
	require.NoError(t, err)
}

func TestAwaitCallHonorsContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := awaitCall(ctx, func() error {
		<-release
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second, "a hung call must not stall the caller")
}

func TestAwaitCallShortCircuitsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := awaitCall(ctx, func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
