package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateProgressMapping(t *testing.T) {
	assert.Equal(t, 0, StateQueued.Progress())
	assert.Equal(t, 16, StateValidating.Progress())
	assert.Equal(t, 33, StateExtractingText.Progress())
	assert.Equal(t, 50, StateExtractingEntities.Progress())
	assert.Equal(t, 66, StateEmbedding.Progress())
	assert.Equal(t, 83, StatePersisting.Progress())
	assert.Equal(t, 100, StateCompleted.Progress())
}

func TestCanTransitionWalksStageOrder(t *testing.T) {
	assert.True(t, CanTransition(StateQueued, StateValidating))
	assert.True(t, CanTransition(StateEmbedding, StatePersisting))
	assert.True(t, CanTransition(StatePersisting, StateCompleted))

	assert.False(t, CanTransition(StateQueued, StateEmbedding))
	assert.False(t, CanTransition(StateEmbedding, StateValidating))
}

func TestCanTransitionFailedFromAnyNonTerminal(t *testing.T) {
	for _, from := range []State{StateQueued, StateValidating, StateExtractingText, StateExtractingEntities, StateEmbedding, StatePersisting} {
		assert.True(t, CanTransition(from, StateFailed), "from %s", from)
	}
	assert.False(t, CanTransition(StateCompleted, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateValidating))
}

func TestTaskBeginKeepsProgress(t *testing.T) {
	task := NewTask(1, "report.pdf", "pdf", "/tmp/report.pdf", 1024)

	task.begin(StateValidating)
	assert.Equal(t, StateValidating, task.State)
	assert.Zero(t, task.Progress)

	// a failure while the stage runs keeps the entry progress
	task.fail(StateValidating, errors.New("validation error"))
	assert.Equal(t, StateFailed, task.State)
	assert.Zero(t, task.Progress)
	assert.Equal(t, string(StateValidating), task.FailedStage)
}

func TestTaskProgressNeverDecreases(t *testing.T) {
	task := NewTask(1, "report.pdf", "pdf", "/tmp/report.pdf", 1024)
	require.Equal(t, StateQueued, task.State)

	task.advance(StatePersisting)
	assert.Equal(t, 83, task.Progress)

	task.fail(StatePersisting, errors.New("store write failure"))
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, 83, task.Progress)
	assert.Equal(t, string(StatePersisting), task.FailedStage)
	assert.False(t, task.FinishedAt.IsZero())
}

func TestTaskCompletedReportsFullProgress(t *testing.T) {
	task := NewTask(1, "notes.txt", "txt", "/tmp/notes.txt", 64)
	for next, ok := task.State.Next(); ok; next, ok = task.State.Next() {
		task.advance(next)
	}
	assert.Equal(t, StateCompleted, task.State)
	assert.Equal(t, 100, task.Progress)
	assert.True(t, task.State.Terminal())
}
