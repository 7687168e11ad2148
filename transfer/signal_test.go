package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointPassesWhenRunning(t *testing.T) {
	sig := NewSignal()
	assert.NoError(t, sig.Checkpoint(context.Background()))
	assert.False(t, sig.Paused())
	assert.False(t, sig.Cancelled())
}

func TestCheckpointBlocksWhilePaused(t *testing.T) {
	sig := NewSignal()
	sig.Pause()

	done := make(chan error, 1)
	go func() { done <- sig.Checkpoint(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Checkpoint returned while paused")
	case <-time.After(250 * time.Millisecond):
	}

	sig.Resume()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Checkpoint did not unblock after Resume")
	}
}

func TestCancelWinsOverPause(t *testing.T) {
	sig := NewSignal()
	sig.Pause()

	done := make(chan error, 1)
	go func() { done <- sig.Checkpoint(context.Background()) }()

	sig.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("Checkpoint did not observe cancellation")
	}
}

func TestContextUnblocksPausedCheckpoint(t *testing.T) {
	sig := NewSignal()
	sig.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sig.Checkpoint(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Checkpoint did not observe context cancellation")
	}
}

func TestResetClearsBothFlags(t *testing.T) {
	sig := NewSignal()
	sig.Pause()
	sig.Cancel()
	require.True(t, sig.Cancelled())

	sig.Reset()
	assert.False(t, sig.Paused())
	assert.False(t, sig.Cancelled())
	assert.NoError(t, sig.Checkpoint(context.Background()))
}
