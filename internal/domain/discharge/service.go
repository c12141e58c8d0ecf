package discharge

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbill/internal/domain/visit"
	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
	"github.com/ehr/clinicbill/internal/platform/db"
)

// Visits is the part of the visit lifecycle discharge drives.
type Visits interface {
	VisitReader
	Lock(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
	TransitionTx(ctx context.Context, id uuid.UUID, to visit.Status, reason string, actor auth.Actor) (*visit.Visit, error)
}

type Service struct {
	repo   Repository
	tx     db.TxRunner
	visits Visits
	gate   *Gate
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, visits Visits, gate *Gate, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		visits: visits,
		gate:   gate,
		logger: logger.With().Str("component", "discharge").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Eligibility(ctx context.Context, visitID uuid.UUID) (*Eligibility, error) {
	return s.gate.CanDischarge(ctx, visitID)
}

// complete re-evaluates the gate under row locks and moves the visit to
// completed. Locks are taken visit, billing, then record. write runs between
// the gate check and the transition.
func (s *Service) complete(ctx context.Context, visitID uuid.UUID, accept func(visit.Type) error, reason string, actor auth.Actor, write func(ctx context.Context, v *visit.Visit) error) (*visit.Visit, error) {
	var done *visit.Visit
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		v, err := s.visits.Lock(ctx, visitID)
		if err != nil {
			return err
		}
		if err := accept(v.Type); err != nil {
			return err
		}
		if v.Status != visit.StatusReadyForBilling {
			return apperr.InvalidTransition("visit %s is %s, expected %s", v.ID, v.Status, visit.StatusReadyForBilling)
		}

		elig, err := s.gate.checkLocked(ctx, visitID)
		if err != nil {
			return err
		}
		if !elig.Allowed {
			return apperr.PreconditionFailed("%s", elig.Reason)
		}

		if write != nil {
			if err := write(ctx, v); err != nil {
				return err
			}
		}
		done, err = s.visits.TransitionTx(ctx, visitID, visit.StatusCompleted, reason, actor)
		return err
	})
	return done, err
}

func inpatientOnly(t visit.Type) error {
	if t != visit.TypeInpatient {
		return apperr.New(apperr.KindInvalidVisitType, "discharge summaries are written for inpatient visits, got %s", t)
	}
	return nil
}

func notInpatient(t visit.Type) error {
	if t == visit.TypeInpatient {
		return apperr.New(apperr.KindInvalidVisitType, "inpatient visits are completed by discharge")
	}
	return nil
}

// CreateDischargeSummary discharges an inpatient visit. The gate is checked
// and the summary written in the same unit of work.
func (s *Service) CreateDischargeSummary(ctx context.Context, visitID uuid.UUID, in SummaryInput, actor auth.Actor) (*Summary, error) {
	if strings.TrimSpace(in.FinalDiagnosis) == "" {
		return nil, apperr.InvalidInput("final_diagnosis is required")
	}
	if strings.TrimSpace(in.DischargeCondition) == "" {
		return nil, apperr.InvalidInput("discharge_condition is required")
	}

	var sum *Summary
	_, err := s.complete(ctx, visitID, inpatientOnly, "discharged", actor, func(ctx context.Context, v *visit.Visit) error {
		existing, err := s.repo.GetByVisit(ctx, v.ID)
		switch {
		case err == nil:
			return apperr.New(apperr.KindAlreadyExists, "discharge summary %s already exists for visit %s", existing.ID, v.ID)
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}
		sum = &Summary{
			VisitID:            v.ID,
			FinalDiagnosis:     strings.TrimSpace(in.FinalDiagnosis),
			DischargeCondition: in.DischargeCondition,
			Instructions:       in.Instructions,
			FollowUpDate:       in.FollowUpDate,
			DischargedAt:       s.now(),
			CreatedBy:          actor.UserID,
		}
		return s.repo.Create(ctx, sum)
	})
	if err != nil {
		s.logger.Warn().
			Str("visit_id", visitID.String()).
			Str("kind", string(apperr.KindOf(err))).
			Str("reason", apperr.Message(err)).
			Str("actor", actor.UserID).
			Msg("discharge rejected")
		return nil, err
	}
	s.logger.Info().
		Str("visit_id", visitID.String()).
		Str("summary_id", sum.ID.String()).
		Str("actor", actor.UserID).
		Msg("patient discharged")
	return sum, nil
}

// Checkout completes an outpatient or emergency visit through the gate.
func (s *Service) Checkout(ctx context.Context, visitID uuid.UUID, actor auth.Actor) (*visit.Visit, error) {
	v, err := s.complete(ctx, visitID, notInpatient, "checked out", actor, nil)
	if err != nil {
		s.logger.Warn().
			Str("visit_id", visitID.String()).
			Str("kind", string(apperr.KindOf(err))).
			Str("reason", apperr.Message(err)).
			Str("actor", actor.UserID).
			Msg("checkout rejected")
		return nil, err
	}
	s.logger.Info().
		Str("visit_id", visitID.String()).
		Str("actor", actor.UserID).
		Msg("visit checked out")
	return v, nil
}

func (s *Service) GetSummary(ctx context.Context, visitID uuid.UUID) (*Summary, error) {
	return s.repo.GetByVisit(ctx, visitID)
}
