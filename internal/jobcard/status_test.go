package jobcard

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransitionAllowsBackwardMoves(t *testing.T) {
	require.NoError(t, CheckTransition(StatusDelivered, StatusPending, false))
	require.NoError(t, CheckTransition(StatusPending, StatusWriteOff, false))
	require.NoError(t, CheckTransition(StatusAwaitingQuote, StatusCompleted, false))
}

func TestCheckTransitionWriteOffIsTerminal(t *testing.T) {
	err := CheckTransition(StatusWriteOff, StatusInProgress, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTerminalStatus))

	require.NoError(t, CheckTransition(StatusWriteOff, StatusWriteOff, false))
	require.NoError(t, CheckTransition(StatusWriteOff, StatusInProgress, true))
}

func TestCheckTransitionRejectsUnknown(t *testing.T) {
	require.Error(t, CheckTransition(StatusPending, Status("archived"), false))
}

func TestStampStatusKeepsFirstTimestamps(t *testing.T) {
	first := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	later := first.Add(48 * time.Hour)
	job := &Job{Status: StatusCompleted}

	stampStatus(job, first)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, first, *job.CompletedAt)

	job.Status = StatusInProgress
	stampStatus(job, later)
	job.Status = StatusCompleted
	stampStatus(job, later)
	assert.Equal(t, first, *job.CompletedAt)

	job.Status = StatusDelivered
	stampStatus(job, later)
	require.NotNil(t, job.DeliveredAt)
	assert.Equal(t, later, *job.DeliveredAt)
	assert.Equal(t, first, *job.CompletedAt)
}

func TestStampStatusDeliveredLeavesCompletedUnset(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	job := &Job{Status: StatusDelivered}

	stampStatus(job, at)
	require.NotNil(t, job.DeliveredAt)
	assert.Equal(t, at, *job.DeliveredAt)
	assert.Nil(t, job.CompletedAt)
}
