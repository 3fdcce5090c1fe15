package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessingStatusTransitions(t *testing.T) {
	assert.True(t, ProcessingStatusPending.CanTransitionTo(ProcessingStatusProcessing))
	assert.True(t, ProcessingStatusPending.CanTransitionTo(ProcessingStatusFailed))
	assert.True(t, ProcessingStatusProcessing.CanTransitionTo(ProcessingStatusCompleted))
	assert.True(t, ProcessingStatusProcessing.CanTransitionTo(ProcessingStatusFailed))

	assert.False(t, ProcessingStatusPending.CanTransitionTo(ProcessingStatusCompleted))
	assert.False(t, ProcessingStatusProcessing.CanTransitionTo(ProcessingStatusPending))
	assert.False(t, ProcessingStatusCompleted.CanTransitionTo(ProcessingStatusProcessing))
	assert.False(t, ProcessingStatusFailed.CanTransitionTo(ProcessingStatusPending))
}

func TestPredecessors(t *testing.T) {
	assert.Equal(t, []ProcessingStatus{ProcessingStatusPending}, Predecessors(ProcessingStatusProcessing))
	assert.Equal(t, []ProcessingStatus{ProcessingStatusProcessing}, Predecessors(ProcessingStatusCompleted))
	assert.ElementsMatch(t,
		[]ProcessingStatus{ProcessingStatusPending, ProcessingStatusProcessing},
		Predecessors(ProcessingStatusFailed))
	assert.Empty(t, Predecessors(ProcessingStatusPending))
}

func TestTerminalAndValid(t *testing.T) {
	assert.True(t, ProcessingStatusCompleted.Terminal())
	assert.True(t, ProcessingStatusFailed.Terminal())
	assert.False(t, ProcessingStatusPending.Terminal())
	assert.False(t, ProcessingStatus("archived").Valid())
}
