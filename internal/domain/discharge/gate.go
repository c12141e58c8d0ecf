package discharge

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ehr/clinicbill/internal/domain/billing"
	"github.com/ehr/clinicbill/internal/domain/medrecord"
	"github.com/ehr/clinicbill/internal/domain/visit"
	"github.com/ehr/clinicbill/internal/platform/apperr"
)

// Billings is the part of the billing store the gate reads.
type Billings interface {
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*billing.Billing, error)
	LockByVisit(ctx context.Context, visitID uuid.UUID) (*billing.Billing, error)
}

// Records is the part of the medical record lock the gate reads.
type Records interface {
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*medrecord.MedicalRecord, error)
	LockForUpdate(ctx context.Context, visitID uuid.UUID) (*medrecord.MedicalRecord, error)
}

type VisitReader interface {
	Get(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
}

// Gate decides whether a visit may be discharged or checked out.
type Gate struct {
	visits   VisitReader
	billings Billings
	records  Records
}

func NewGate(visits VisitReader, billings Billings, records Records) *Gate {
	return &Gate{visits: visits, billings: billings, records: records}
}

// CanDischarge evaluates the gate without taking locks.
func (g *Gate) CanDischarge(ctx context.Context, visitID uuid.UUID) (*Eligibility, error) {
	if _, err := g.visits.Get(ctx, visitID); err != nil {
		return nil, err
	}
	return g.evaluate(ctx, visitID, g.billings.GetByVisit, g.records.GetByVisit)
}

// checkLocked evaluates the gate with the billing and record rows locked.
// It must run inside a unit of work that already holds the visit lock.
func (g *Gate) checkLocked(ctx context.Context, visitID uuid.UUID) (*Eligibility, error) {
	return g.evaluate(ctx, visitID, g.billings.LockByVisit, g.records.LockForUpdate)
}

func (g *Gate) evaluate(
	ctx context.Context,
	visitID uuid.UUID,
	loadBilling func(context.Context, uuid.UUID) (*billing.Billing, error),
	loadRecord func(context.Context, uuid.UUID) (*medrecord.MedicalRecord, error),
) (*Eligibility, error) {
	b, err := loadBilling(ctx, visitID)
	if errors.Is(err, apperr.ErrNotFound) {
		return &Eligibility{Reason: ReasonBillingNotCreated}, nil
	}
	if err != nil {
		return nil, err
	}
	if b.RemainingAmount.IsPositive() {
		return &Eligibility{Reason: ReasonUnsettledBalance}, nil
	}

	rec, err := loadRecord(ctx, visitID)
	if errors.Is(err, apperr.ErrNotFound) {
		return &Eligibility{Reason: ReasonRecordNotLocked}, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.IsLocked {
		return &Eligibility{Reason: ReasonRecordNotLocked}, nil
	}
	return &Eligibility{Allowed: true}, nil
}

// CheckBillingReady lets an inpatient visit enter ready_for_billing only
// once its discharge billing exists.
func (g *Gate) CheckBillingReady(ctx context.Context, visitID uuid.UUID, visitType visit.Type) error {
	if visitType != visit.TypeInpatient {
		return nil
	}
	_, err := g.billings.GetByVisit(ctx, visitID)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.PreconditionFailed("inpatient visit %s needs its discharge billing before the record is locked", visitID)
	}
	return err
}

// CheckSettled refuses to let a visit end while its billing has an open
// balance. A visit that was never billed is settled. It must run inside the
// unit of work holding the visit lock.
func (g *Gate) CheckSettled(ctx context.Context, visitID uuid.UUID) error {
	b, err := g.billings.LockByVisit(ctx, visitID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if b.RemainingAmount.IsPositive() {
		return apperr.PreconditionFailed("visit %s has an unsettled balance of %s",
			visitID, b.RemainingAmount.StringFixed(billing.MoneyScale))
	}
	return nil
}
