package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerStartStopUnwindsRunLoop(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan struct{})

	r := NewRunner("test-runner", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return nil
	})

	require.NoError(t, r.Start(context.Background()))
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(stopCtx))

	select {
	case <-stopped:
	default:
		t.Fatal("run loop did not observe cancellation before Stop returned")
	}
}

func TestRunnerPropagatesRunError(t *testing.T) {
	wantErr := errors.New("boom")
	r := NewRunner("failing", func(ctx context.Context) error {
		<-ctx.Done()
		return wantErr
	})

	require.NoError(t, r.Start(context.Background()))
	err := r.Stop(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestRunnerStopBeforeStartIsNoop(t *testing.T) {
	r := NewRunner("unstarted", func(ctx context.Context) error { return nil })
	assert.NoError(t, r.Stop(context.Background()))
}

func TestRunnerNameReturnsRegisteredName(t *testing.T) {
	r := NewRunner("named", func(ctx context.Context) error { return nil })
	assert.Equal(t, "named", r.Name())
}
