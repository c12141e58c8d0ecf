package visit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinicbill/internal/platform/apperr"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusRegistered, StatusWaiting, true},
		{StatusWaiting, StatusInExamination, true},
		{StatusInExamination, StatusReadyForBilling, true},
		{StatusReadyForBilling, StatusCompleted, true},
		{StatusReadyForBilling, StatusInExamination, true},
		{StatusPending, StatusRegistered, true},
		{StatusPending, StatusInExamination, true},
		{StatusRegistered, StatusCompleted, false},
		{StatusRegistered, StatusInExamination, false},
		{StatusWaiting, StatusReadyForBilling, false},
		{StatusInExamination, StatusCompleted, false},
		{StatusCompleted, StatusInExamination, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusRegistered, false},
		{StatusRegistered, StatusCancelled, true},
		{StatusReadyForBilling, StatusCancelled, true},
		{Status("unknown"), StatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_SetsEndTimeOnTerminal(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	v := &Visit{Status: StatusReadyForBilling}

	require.NoError(t, Transition(v, StatusCompleted, "", now))
	assert.Equal(t, StatusCompleted, v.Status)
	require.NotNil(t, v.EndedAt)
	assert.True(t, v.EndedAt.Equal(now))
}

func TestTransition_CancelRequiresReason(t *testing.T) {
	v := &Visit{Status: StatusWaiting}

	err := Transition(v, StatusCancelled, "  ", time.Now())
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	assert.Equal(t, StatusWaiting, v.Status)

	require.NoError(t, Transition(v, StatusCancelled, "patient left", time.Now()))
	require.NotNil(t, v.CancelReason)
	assert.Equal(t, "patient left", *v.CancelReason)
	assert.NotNil(t, v.EndedAt)
}

func TestTransition_IllegalLeavesVisitUntouched(t *testing.T) {
	v := &Visit{Status: StatusRegistered}

	err := Transition(v, StatusCompleted, "", time.Now())
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, StatusRegistered, v.Status)
	assert.Nil(t, v.EndedAt)
}

func TestTransition_UnknownTarget(t *testing.T) {
	v := &Visit{Status: StatusRegistered}
	err := Transition(v, Status("discharged"), "", time.Now())
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(StatusReadyForBilling))
}
