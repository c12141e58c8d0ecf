package visit_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinicbill/internal/domain/visit"
	"github.com/ehr/clinicbill/internal/domain/visit/visittest"
	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
	"github.com/ehr/clinicbill/internal/platform/db/dbtest"
)

var registrar = auth.Actor{UserID: "reg-1", Roles: []string{"registrar"}}

func newTestService() (*visit.Service, *visittest.Repo, *dbtest.Runner) {
	repo := visittest.NewRepo()
	runner := dbtest.NewRunner(repo)
	return visit.NewService(repo, runner, zerolog.Nop()), repo, runner
}

func TestService_Register(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	v, err := svc.Register(ctx, visit.RegisterRequest{PatientID: uuid.New(), Type: visit.TypeOutpatient}, registrar)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, v.ID)
	assert.Equal(t, visit.StatusRegistered, v.Status)
	assert.Equal(t, "reg-1", v.RegisteredBy)
	assert.False(t, v.ArrivedAt.IsZero())
}

func TestService_Register_QuickEmergencyIsPending(t *testing.T) {
	svc, _, _ := newTestService()

	v, err := svc.Register(context.Background(), visit.RegisterRequest{
		PatientID: uuid.New(), Type: visit.TypeEmergency, Quick: true,
	}, registrar)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusPending, v.Status)
}

func TestService_Register_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, visit.RegisterRequest{Type: visit.TypeOutpatient}, registrar)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.Register(ctx, visit.RegisterRequest{PatientID: uuid.New(), Type: "home"}, registrar)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.Register(ctx, visit.RegisterRequest{PatientID: uuid.New(), Type: visit.TypeInpatient, Quick: true}, registrar)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestService_Transition_RecordsHistory(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	v, err := svc.Register(ctx, visit.RegisterRequest{PatientID: uuid.New(), Type: visit.TypeOutpatient}, registrar)
	require.NoError(t, err)

	v, err = svc.Transition(ctx, v.ID, visit.StatusWaiting, "", registrar)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusWaiting, v.Status)
	assert.Equal(t, 2, v.Version)

	_, err = svc.Transition(ctx, v.ID, visit.StatusInExamination, "", registrar)
	require.NoError(t, err)

	history, err := svc.History(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, visit.StatusRegistered, history[0].FromStatus)
	assert.Equal(t, visit.StatusWaiting, history[0].ToStatus)
	assert.Equal(t, visit.StatusInExamination, history[1].ToStatus)
	assert.Equal(t, "reg-1", history[1].ChangedBy)
}

func TestService_Transition_IllegalRollsBack(t *testing.T) {
	svc, _, runner := newTestService()
	ctx := context.Background()
	v, err := svc.Register(ctx, visit.RegisterRequest{PatientID: uuid.New(), Type: visit.TypeOutpatient}, registrar)
	require.NoError(t, err)

	_, err = svc.Transition(ctx, v.ID, visit.StatusCompleted, "", registrar)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	assert.Equal(t, 1, runner.Rollbacks)

	got, err := svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusRegistered, got.Status)

	history, err := svc.History(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestService_Transition_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Transition(context.Background(), uuid.New(), visit.StatusWaiting, "", registrar)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_RequestTransition_RefusesGatedTargets(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	v := repo.Put(&visit.Visit{PatientID: uuid.New(), Type: visit.TypeOutpatient, Status: visit.StatusInExamination})

	_, err := svc.RequestTransition(ctx, v.ID, visit.StatusReadyForBilling, "", registrar)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	repo.Put(&visit.Visit{ID: v.ID, PatientID: v.PatientID, Type: v.Type, Status: visit.StatusReadyForBilling})
	_, err = svc.RequestTransition(ctx, v.ID, visit.StatusCompleted, "", registrar)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := svc.RequestTransition(ctx, v.ID, visit.StatusCancelled, "duplicate registration", registrar)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusCancelled, got.Status)
}

type settlementFunc func(ctx context.Context, visitID uuid.UUID) error

func (f settlementFunc) CheckSettled(ctx context.Context, visitID uuid.UUID) error {
	return f(ctx, visitID)
}

func TestService_Cancel_WaitsForSettlement(t *testing.T) {
	svc, repo, runner := newTestService()
	ctx := context.Background()
	v := repo.Put(&visit.Visit{PatientID: uuid.New(), Type: visit.TypeOutpatient, Status: visit.StatusInExamination})

	var checked []uuid.UUID
	open := true
	svc.SetSettlementChecker(settlementFunc(func(_ context.Context, id uuid.UUID) error {
		checked = append(checked, id)
		if open {
			return apperr.PreconditionFailed("visit %s has an unsettled balance", id)
		}
		return nil
	}))

	_, err := svc.RequestTransition(ctx, v.ID, visit.StatusCancelled, "patient left", registrar)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
	assert.Equal(t, 1, runner.Rollbacks)

	got, err := svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusInExamination, got.Status)
	assert.Nil(t, got.CancelReason)
	assert.Nil(t, got.EndedAt)

	// Other transitions are not gated.
	_, err = svc.Transition(ctx, v.ID, visit.StatusReadyForBilling, "", registrar)
	require.NoError(t, err)
	assert.Len(t, checked, 1)

	open = false
	got, err = svc.RequestTransition(ctx, v.ID, visit.StatusCancelled, "patient left", registrar)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusCancelled, got.Status)
	assert.Equal(t, []uuid.UUID{v.ID, v.ID}, checked)
}

func TestService_TransitionTx_JoinsCallerUnitOfWork(t *testing.T) {
	svc, repo, runner := newTestService()
	ctx := context.Background()
	v := repo.Put(&visit.Visit{PatientID: uuid.New(), Type: visit.TypeInpatient, Status: visit.StatusInExamination})

	err := runner.WithTx(ctx, func(ctx context.Context) error {
		if _, err := svc.TransitionTx(ctx, v.ID, visit.StatusReadyForBilling, "", registrar); err != nil {
			return err
		}
		return apperr.PreconditionFailed("billing missing")
	})
	require.Error(t, err)

	got, err := svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusInExamination, got.Status, "outer rollback must undo the transition")
}

func TestService_List(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	patient := uuid.New()
	for _, typ := range []visit.Type{visit.TypeOutpatient, visit.TypeInpatient, visit.TypeOutpatient} {
		_, err := svc.Register(ctx, visit.RegisterRequest{PatientID: patient, Type: typ}, registrar)
		require.NoError(t, err)
	}
	_, err := svc.Register(ctx, visit.RegisterRequest{PatientID: uuid.New(), Type: visit.TypeOutpatient}, registrar)
	require.NoError(t, err)

	visits, total, err := svc.List(ctx, visit.ListFilter{PatientID: &patient, Type: visit.TypeOutpatient}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, visits, 2)
}
