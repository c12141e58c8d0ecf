package discharge_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinicbill/internal/domain/billing"
	"github.com/ehr/clinicbill/internal/domain/billing/billingtest"
	"github.com/ehr/clinicbill/internal/domain/discharge"
	"github.com/ehr/clinicbill/internal/domain/medrecord"
	"github.com/ehr/clinicbill/internal/domain/medrecord/medrecordtest"
	"github.com/ehr/clinicbill/internal/domain/visit"
	"github.com/ehr/clinicbill/internal/domain/visit/visittest"
	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
	"github.com/ehr/clinicbill/internal/platform/db/dbtest"
)

var (
	doctor       = auth.Actor{UserID: "doc-1", Roles: []string{"doctor"}}
	cashier      = auth.Actor{UserID: "cash-1", Roles: []string{"cashier"}}
	recordsClerk = auth.Actor{UserID: "mr-1", Roles: []string{"medical_records"}}
)

type summaryRepo struct {
	mu      sync.Mutex
	byVisit map[uuid.UUID]discharge.Summary
}

func newSummaryRepo() *summaryRepo {
	return &summaryRepo{byVisit: make(map[uuid.UUID]discharge.Summary)}
}

func (r *summaryRepo) Snapshot() func() {
	r.mu.Lock()
	saved := make(map[uuid.UUID]discharge.Summary, len(r.byVisit))
	for k, v := range r.byVisit {
		saved[k] = v
	}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byVisit = saved
	}
}

func (r *summaryRepo) Create(_ context.Context, s *discharge.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byVisit[s.VisitID]; ok {
		return apperr.New(apperr.KindAlreadyExists, "discharge summary for visit %s already exists", s.VisitID)
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	r.byVisit[s.VisitID] = *s
	return nil
}

func (r *summaryRepo) GetByVisit(_ context.Context, visitID uuid.UUID) (*discharge.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byVisit[visitID]
	if !ok {
		return nil, apperr.NotFound("discharge summary for visit %s not found", visitID)
	}
	return &s, nil
}

type fixture struct {
	svc       *discharge.Service
	gate      *discharge.Gate
	records   *medrecord.Service
	visitSvc  *visit.Service
	agg       *billing.Aggregator
	pay       *billing.PaymentProcessor
	visits    *visittest.Repo
	billings  *billingtest.Repo
	summaries *summaryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		visits:    visittest.NewRepo(),
		billings:  billingtest.NewRepo(),
		summaries: newSummaryRepo(),
	}
	recRepo := medrecordtest.NewRepo()
	runner := dbtest.NewRunner(f.visits, recRepo, f.billings, f.summaries)

	visitSvc := visit.NewService(f.visits, runner, zerolog.Nop())
	f.records = medrecord.NewService(recRepo, runner, visitSvc, []string{"medical_records"}, zerolog.Nop())
	f.gate = discharge.NewGate(visitSvc, f.billings, f.records)
	f.records.SetBillingReadiness(f.gate)
	visitSvc.SetSettlementChecker(f.gate)
	f.visitSvc = visitSvc

	sources := billing.DefaultSources(billingtest.NewCharges(), decimal.NewFromInt(50000))
	f.agg = billing.NewAggregator(f.billings, runner, visitSvc, recRepo, sources, zerolog.Nop())
	f.pay = billing.NewPaymentProcessor(f.billings, runner, visitSvc, false, zerolog.Nop())
	f.svc = discharge.NewService(f.summaries, runner, visitSvc, f.gate, zerolog.Nop())
	return f
}

// admit stores a visit in examination with an open, diagnosed record.
func (f *fixture) admit(t *testing.T, vt visit.Type) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	v := f.visits.Put(&visit.Visit{PatientID: uuid.New(), Type: vt, Status: visit.StatusInExamination})
	rec, err := f.records.Open(ctx, v.ID, doctor)
	require.NoError(t, err)
	require.NoError(t, f.records.AddDiagnosis(ctx, rec.ID, &medrecord.Diagnosis{Code: "K35.8", IsPrimary: true}, doctor))
	return v.ID, rec.ID
}

func (f *fixture) bill(t *testing.T, visitID uuid.UUID) *billing.Statement {
	t.Helper()
	st, err := f.agg.Create(context.Background(), visitID, billing.VariantAuto, cashier)
	require.NoError(t, err)
	return st
}

func (f *fixture) payAmount(t *testing.T, billingID uuid.UUID, amount int64) *billing.PaymentResult {
	t.Helper()
	res, err := f.pay.ProcessPayment(context.Background(), billingID, billing.PaymentRequest{
		Amount: decimal.NewFromInt(amount), Method: billing.MethodTransfer,
	}, cashier)
	require.NoError(t, err)
	return res
}

func (f *fixture) status(t *testing.T, visitID uuid.UUID) visit.Status {
	t.Helper()
	v, err := f.visits.GetByID(context.Background(), visitID)
	require.NoError(t, err)
	return v.Status
}

func TestGate_UnsettledBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visitID, recID := f.admit(t, visit.TypeOutpatient)

	_, err := f.records.Lock(ctx, recID, doctor)
	require.NoError(t, err)
	st := f.bill(t, visitID)
	res := f.payAmount(t, st.ID, 45000)
	require.True(t, res.Billing.RemainingAmount.Equal(decimal.NewFromInt(5000)))

	elig, err := f.gate.CanDischarge(ctx, visitID)
	require.NoError(t, err)
	assert.False(t, elig.Allowed)
	assert.Equal(t, "unsettled balance", elig.Reason)
}

func TestGate_Reasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visitID, recID := f.admit(t, visit.TypeOutpatient)

	elig, err := f.gate.CanDischarge(ctx, visitID)
	require.NoError(t, err)
	assert.Equal(t, discharge.Eligibility{Reason: discharge.ReasonBillingNotCreated}, *elig)

	st := f.bill(t, visitID)
	f.payAmount(t, st.ID, 50000)
	elig, err = f.gate.CanDischarge(ctx, visitID)
	require.NoError(t, err)
	assert.Equal(t, discharge.ReasonRecordNotLocked, elig.Reason)

	_, err = f.records.Lock(ctx, recID, doctor)
	require.NoError(t, err)
	elig, err = f.gate.CanDischarge(ctx, visitID)
	require.NoError(t, err)
	assert.True(t, elig.Allowed)
	assert.Empty(t, elig.Reason)

	_, err = f.gate.CanDischarge(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCheckout_CompletesSettledVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visitID, recID := f.admit(t, visit.TypeOutpatient)

	_, err := f.records.Lock(ctx, recID, doctor)
	require.NoError(t, err)
	st := f.bill(t, visitID)

	_, err = f.svc.Checkout(ctx, visitID, cashier)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
	assert.Equal(t, visit.StatusReadyForBilling, f.status(t, visitID))

	f.payAmount(t, st.ID, 50000)
	v, err := f.svc.Checkout(ctx, visitID, cashier)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusCompleted, v.Status)
	assert.NotNil(t, v.EndedAt)

	_, err = f.svc.Checkout(ctx, visitID, cashier)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestCheckout_RejectsInpatient(t *testing.T) {
	f := newFixture(t)
	visitID, _ := f.admit(t, visit.TypeInpatient)

	_, err := f.svc.Checkout(context.Background(), visitID, cashier)
	assert.ErrorIs(t, err, apperr.ErrInvalidVisitType)
}

func TestDischarge_InpatientFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visitID, recID := f.admit(t, visit.TypeInpatient)

	_, err := f.records.Lock(ctx, recID, doctor)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed, "inpatient lock needs the discharge billing first")
	assert.Equal(t, visit.StatusInExamination, f.status(t, visitID))

	st, err := f.agg.Create(ctx, visitID, billing.VariantDischarge, cashier)
	require.NoError(t, err)
	_, err = f.records.Lock(ctx, recID, doctor)
	require.NoError(t, err)
	f.payAmount(t, st.ID, 50000)

	in := discharge.SummaryInput{FinalDiagnosis: "Acute appendicitis, resolved", DischargeCondition: "recovered"}
	sum, err := f.svc.CreateDischargeSummary(ctx, visitID, in, doctor)
	require.NoError(t, err)
	assert.Equal(t, visitID, sum.VisitID)
	assert.Equal(t, "doc-1", sum.CreatedBy)
	assert.Equal(t, visit.StatusCompleted, f.status(t, visitID))

	stored, err := f.svc.GetSummary(ctx, visitID)
	require.NoError(t, err)
	assert.Equal(t, sum.ID, stored.ID)

	_, err = f.svc.CreateDischargeSummary(ctx, visitID, in, doctor)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestDischarge_GateFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visitID, recID := f.admit(t, visit.TypeInpatient)

	_, err := f.agg.Create(ctx, visitID, billing.VariantDischarge, cashier)
	require.NoError(t, err)
	_, err = f.records.Lock(ctx, recID, doctor)
	require.NoError(t, err)

	in := discharge.SummaryInput{FinalDiagnosis: "Observation", DischargeCondition: "improved"}
	_, err = f.svc.CreateDischargeSummary(ctx, visitID, in, doctor)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
	assert.Equal(t, discharge.ReasonUnsettledBalance, apperr.Message(err))

	_, err = f.svc.GetSummary(ctx, visitID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, visit.StatusReadyForBilling, f.status(t, visitID))
}

func TestDischarge_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outpatient, _ := f.admit(t, visit.TypeOutpatient)

	_, err := f.svc.CreateDischargeSummary(ctx, outpatient, discharge.SummaryInput{DischargeCondition: "recovered"}, doctor)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.svc.CreateDischargeSummary(ctx, outpatient, discharge.SummaryInput{FinalDiagnosis: "x", DischargeCondition: "recovered"}, doctor)
	assert.ErrorIs(t, err, apperr.ErrInvalidVisitType)
}

func TestRecordRelock_KeepsPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visitID, recID := f.admit(t, visit.TypeOutpatient)

	_, err := f.records.Lock(ctx, recID, doctor)
	require.NoError(t, err)
	st := f.bill(t, visitID)
	f.payAmount(t, st.ID, 20000)

	_, err = f.records.Lock(ctx, recID, doctor)
	assert.ErrorIs(t, err, apperr.ErrRecordLocked)

	before, err := f.pay.ListPayments(ctx, st.ID)
	require.NoError(t, err)
	billedBefore, err := f.billings.GetByID(ctx, st.ID)
	require.NoError(t, err)

	_, err = f.records.Unlock(ctx, recID, "add missed diagnosis", recordsClerk)
	require.NoError(t, err)
	require.NoError(t, f.records.AddDiagnosis(ctx, recID, &medrecord.Diagnosis{Code: "E11.9"}, doctor))
	_, err = f.records.Lock(ctx, recID, doctor)
	require.NoError(t, err)

	after, err := f.pay.ListPayments(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	billedAfter, err := f.billings.GetByID(ctx, st.ID)
	require.NoError(t, err)
	assert.True(t, billedBefore.PaidAmount.Equal(billedAfter.PaidAmount))
	assert.Equal(t, billedBefore.Version, billedAfter.Version)
}

func TestCheckout_InsuranceCoveredVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visitID, recID := f.admit(t, visit.TypeOutpatient)

	_, err := f.records.Lock(ctx, recID, doctor)
	require.NoError(t, err)
	st := f.bill(t, visitID)

	coverage := decimal.NewFromInt(50000)
	b, err := f.pay.AdjustBilling(ctx, st.ID, billing.AdjustmentRequest{InsuranceCoverage: &coverage}, cashier)
	require.NoError(t, err)
	assert.True(t, b.RemainingAmount.IsZero())

	elig, err := f.gate.CanDischarge(ctx, visitID)
	require.NoError(t, err)
	assert.True(t, elig.Allowed)

	v, err := f.svc.Checkout(ctx, visitID, cashier)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusCompleted, v.Status)
}

func TestCancel_RefusedWhileBalanceOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visitID, _ := f.admit(t, visit.TypeOutpatient)
	st := f.bill(t, visitID)

	_, err := f.visitSvc.RequestTransition(ctx, visitID, visit.StatusCancelled, "patient left", cashier)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
	assert.Equal(t, visit.StatusInExamination, f.status(t, visitID))
	v, err := f.visits.GetByID(ctx, visitID)
	require.NoError(t, err)
	assert.Nil(t, v.CancelReason)

	f.payAmount(t, st.ID, 50000)
	v, err = f.visitSvc.RequestTransition(ctx, visitID, visit.StatusCancelled, "patient left", cashier)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusCancelled, v.Status)
}

func TestCancel_UnbilledVisit(t *testing.T) {
	f := newFixture(t)
	visitID, _ := f.admit(t, visit.TypeOutpatient)

	v, err := f.visitSvc.RequestTransition(context.Background(), visitID, visit.StatusCancelled, "registered twice", cashier)
	require.NoError(t, err)
	assert.Equal(t, visit.StatusCancelled, v.Status)
}

// settledInpatient returns an inpatient visit whose bill is paid and whose
// record is locked, ready for discharge.
func (f *fixture) settledInpatient(t *testing.T) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	visitID, recID := f.admit(t, visit.TypeInpatient)
	st, err := f.agg.Create(ctx, visitID, billing.VariantDischarge, cashier)
	require.NoError(t, err)
	_, err = f.records.Lock(ctx, recID, doctor)
	require.NoError(t, err)
	f.payAmount(t, st.ID, 50000)
	return visitID, recID
}

func TestDischarge_ConcurrentSummariesCompleteOnce(t *testing.T) {
	f := newFixture(t)
	visitID, _ := f.settledInpatient(t)
	in := discharge.SummaryInput{FinalDiagnosis: "Pneumonia, resolved", DischargeCondition: "recovered"}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateDischargeSummary(context.Background(), visitID, in, doctor)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.summaries.byVisit, 1)
	assert.Equal(t, visit.StatusCompleted, f.status(t, visitID))
}

func TestDischarge_RacesRecordUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visitID, recID := f.settledInpatient(t)
	in := discharge.SummaryInput{FinalDiagnosis: "Fracture, stable", DischargeCondition: "improved"}

	var wg sync.WaitGroup
	var dischargeErr, unlockErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, dischargeErr = f.svc.CreateDischargeSummary(ctx, visitID, in, doctor)
	}()
	go func() {
		defer wg.Done()
		_, unlockErr = f.records.Unlock(ctx, recID, "late lab result", recordsClerk)
	}()
	wg.Wait()

	rec, err := f.records.GetByVisit(ctx, visitID)
	require.NoError(t, err)
	_, summaryErr := f.svc.GetSummary(ctx, visitID)

	if dischargeErr == nil {
		assert.ErrorIs(t, unlockErr, apperr.ErrInvalidTransition)
		assert.Equal(t, visit.StatusCompleted, f.status(t, visitID))
		assert.True(t, rec.IsLocked)
		assert.NoError(t, summaryErr)
	} else {
		require.NoError(t, unlockErr)
		assert.ErrorIs(t, dischargeErr, apperr.ErrInvalidTransition)
		assert.Equal(t, visit.StatusInExamination, f.status(t, visitID))
		assert.False(t, rec.IsLocked)
		assert.ErrorIs(t, summaryErr, apperr.ErrNotFound)
	}
}
