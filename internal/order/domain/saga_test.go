package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/orderflow/pkg/apperrors"
)

func TestTransitionHappyPath(t *testing.T) {
	steps := []struct {
		ev   SagaEvent
		want SagaStatus
	}{
		{EventReserveRequested, SagaInventoryPending},
		{EventInventoryReserved, SagaInventoryReserved},
		{EventPaymentRequested, SagaPaymentPending},
		{EventPaymentCompleted, SagaPaymentCompleted},
		{EventOrderCompleted, SagaCompleted},
	}

	current := SagaStarted
	for _, step := range steps {
		next, applied, err := Transition(current, step.ev)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, step.want, next)
		current = next
	}
	assert.True(t, current.Terminal())
}

func TestTransitionFailureLegs(t *testing.T) {
	next, applied, err := Transition(SagaInventoryPending, EventInventoryFailed)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, SagaFailed, next)

	next, applied, err = Transition(SagaPaymentPending, EventPaymentFailed)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, SagaCompensating, next)

	next, applied, err = Transition(SagaCompensating, EventCompensated)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, SagaFailed, next)
}

func TestTransitionCancellation(t *testing.T) {
	cases := map[SagaStatus]SagaStatus{
		SagaStarted:           SagaFailed,
		SagaInventoryPending:  SagaFailed,
		SagaInventoryReserved: SagaCompensating,
		SagaPaymentPending:    SagaCompensating,
		SagaPaymentCompleted:  SagaCompensating,
	}
	for from, want := range cases {
		next, applied, err := Transition(from, EventCancelRequested)
		require.NoError(t, err, "cancel from %s", from)
		assert.True(t, applied)
		assert.Equal(t, want, next, "cancel from %s", from)
	}
}

func TestTransitionAbsorbsRedelivery(t *testing.T) {
	// A redelivered outcome event whose effect is already visible changes
	// nothing and reports applied=false.
	cases := []struct {
		state SagaStatus
		ev    SagaEvent
	}{
		{SagaInventoryReserved, EventInventoryReserved},
		{SagaPaymentPending, EventInventoryReserved},
		{SagaCompleted, EventInventoryReserved},
		{SagaPaymentCompleted, EventPaymentCompleted},
		{SagaCompleted, EventPaymentCompleted},
		{SagaFailed, EventPaymentFailed},
		{SagaFailed, EventInventoryFailed},
	}
	for _, tc := range cases {
		next, applied, err := Transition(tc.state, tc.ev)
		require.NoError(t, err, "%s in %s", tc.ev, tc.state)
		assert.False(t, applied, "%s in %s", tc.ev, tc.state)
		assert.Equal(t, tc.state, next)
	}
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		state SagaStatus
		ev    SagaEvent
	}{
		{SagaStarted, EventPaymentCompleted},
		{SagaStarted, EventOrderCompleted},
		{SagaInventoryPending, EventPaymentRequested},
		{SagaCompleted, EventCancelRequested},
		{SagaFailed, EventCancelRequested},
		{SagaFailed, EventPaymentCompleted},
	}
	for _, tc := range cases {
		_, applied, err := Transition(tc.state, tc.ev)
		require.Error(t, err, "%s in %s", tc.ev, tc.state)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		assert.False(t, applied)
	}
}
