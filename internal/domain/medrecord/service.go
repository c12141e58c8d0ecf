package medrecord

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbill/internal/domain/visit"
	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
	"github.com/ehr/clinicbill/internal/platform/db"
)

// Visits is the part of the visit lifecycle the record lock drives.
type Visits interface {
	Get(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
	Lock(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
	TransitionTx(ctx context.Context, id uuid.UUID, to visit.Status, reason string, actor auth.Actor) (*visit.Visit, error)
}

// CompletenessChecker decides whether a record has enough clinical content
// to be locked. It returns a precondition_failed error when it has not.
type CompletenessChecker interface {
	CheckComplete(ctx context.Context, rec *MedicalRecord) error
}

// BillingReadiness decides whether a visit may enter ready_for_billing.
type BillingReadiness interface {
	CheckBillingReady(ctx context.Context, visitID uuid.UUID, visitType visit.Type) error
}

// DiagnosisRequired is the default completeness rule: at least one diagnosis.
type DiagnosisRequired struct {
	Repo Repository
}

func (d DiagnosisRequired) CheckComplete(ctx context.Context, rec *MedicalRecord) error {
	n, err := d.Repo.CountDiagnoses(ctx, rec.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.PreconditionFailed("medical record %s has no diagnosis", rec.ID)
	}
	return nil
}

type Service struct {
	repo         Repository
	tx           db.TxRunner
	visits       Visits
	completeness CompletenessChecker
	readiness    BillingReadiness
	unlockRoles  []string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService wires the record lock. readiness may be set later with
// SetBillingReadiness since the discharge gate depends on this package.
func NewService(repo Repository, tx db.TxRunner, visits Visits, unlockRoles []string, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		tx:           tx,
		visits:       visits,
		completeness: DiagnosisRequired{Repo: repo},
		unlockRoles:  unlockRoles,
		logger:       logger.With().Str("component", "medrecord").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetCompletenessChecker(c CompletenessChecker) {
	s.completeness = c
}

func (s *Service) SetBillingReadiness(r BillingReadiness) {
	s.readiness = r
}

// Open creates the visit's medical record, authored by actor.
func (s *Service) Open(ctx context.Context, visitID uuid.UUID, actor auth.Actor) (*MedicalRecord, error) {
	v, err := s.visits.Get(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if visit.IsTerminal(v.Status) {
		return nil, apperr.InvalidTransition("visit %s is %s", v.ID, v.Status)
	}
	if actor.UserID == "" {
		return nil, apperr.New(apperr.KindForbidden, "an authenticated doctor is required")
	}

	rec := &MedicalRecord{VisitID: visitID, DoctorID: actor.UserID, IsDraft: true}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("visit_id", visitID.String()).
		Str("actor", actor.UserID).
		Msg("medical record opened")
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*RecordView, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.Entries(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RecordView{MedicalRecord: rec, Entries: *entries}, nil
}

func (s *Service) GetByVisit(ctx context.Context, visitID uuid.UUID) (*MedicalRecord, error) {
	return s.repo.GetByVisit(ctx, visitID)
}

// LockForUpdate reads a visit's record FOR UPDATE inside the caller's unit
// of work.
func (s *Service) LockForUpdate(ctx context.Context, visitID uuid.UUID) (*MedicalRecord, error) {
	rec, err := s.repo.GetByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	return s.repo.LockByID(ctx, rec.ID)
}

// Lock finalises the record and moves its visit to ready_for_billing.
// Row locks are taken visit first, then record.
func (s *Service) Lock(ctx context.Context, recordID uuid.UUID, actor auth.Actor) (*MedicalRecord, error) {
	var rec *MedicalRecord
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByID(ctx, recordID)
		if err != nil {
			return err
		}
		v, err := s.visits.Lock(ctx, current.VisitID)
		if err != nil {
			return err
		}
		rec, err = s.repo.LockByID(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.IsLocked {
			return apperr.New(apperr.KindRecordLocked, "medical record %s is already locked", rec.ID)
		}
		if actor.UserID != rec.DoctorID && !actor.HasAnyRole(s.unlockRoles...) {
			return apperr.New(apperr.KindForbidden, "only the authoring doctor may lock medical record %s", rec.ID)
		}
		if err := s.completeness.CheckComplete(ctx, rec); err != nil {
			return err
		}
		if v.Status != visit.StatusInExamination {
			return apperr.InvalidTransition("visit %s is %s, expected %s", v.ID, v.Status, visit.StatusInExamination)
		}
		if s.readiness != nil {
			if err := s.readiness.CheckBillingReady(ctx, v.ID, v.Type); err != nil {
				return err
			}
		}

		now := s.now()
		rec.IsLocked = true
		rec.IsDraft = false
		rec.LockedAt = &now
		rec.LockedBy = &actor.UserID
		if err := s.repo.Update(ctx, rec); err != nil {
			return err
		}
		_, err = s.visits.TransitionTx(ctx, v.ID, visit.StatusReadyForBilling, "medical record locked", actor)
		return err
	})
	if err != nil {
		s.logger.Warn().
			Str("record_id", recordID.String()).
			Str("kind", string(apperr.KindOf(err))).
			Str("actor", actor.UserID).
			Msg("medical record lock rejected")
		return nil, err
	}
	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("visit_id", rec.VisitID.String()).
		Str("actor", actor.UserID).
		Msg("medical record locked")
	return rec, nil
}

// Unlock reopens a locked record for editing and returns its visit to
// in_examination. Payments already recorded are left untouched.
func (s *Service) Unlock(ctx context.Context, recordID uuid.UUID, reason string, actor auth.Actor) (*MedicalRecord, error) {
	if !actor.HasAnyRole(s.unlockRoles...) {
		return nil, apperr.New(apperr.KindForbidden, "unlocking requires one of the roles: %s", strings.Join(s.unlockRoles, ", "))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.InvalidInput("reason is required")
	}

	var rec *MedicalRecord
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByID(ctx, recordID)
		if err != nil {
			return err
		}
		if _, err := s.visits.Lock(ctx, current.VisitID); err != nil {
			return err
		}
		rec, err = s.repo.LockByID(ctx, recordID)
		if err != nil {
			return err
		}
		if !rec.IsLocked {
			return apperr.InvalidTransition("medical record %s is not locked", rec.ID)
		}

		now := s.now()
		rec.IsLocked = false
		rec.IsDraft = true
		rec.UnlockedAt = &now
		rec.UnlockedBy = &actor.UserID
		rec.UnlockReason = &reason
		if err := s.repo.Update(ctx, rec); err != nil {
			return err
		}
		_, err = s.visits.TransitionTx(ctx, rec.VisitID, visit.StatusInExamination, "medical record unlocked: "+reason, actor)
		return err
	})
	if err != nil {
		s.logger.Warn().
			Str("record_id", recordID.String()).
			Str("kind", string(apperr.KindOf(err))).
			Str("actor", actor.UserID).
			Msg("medical record unlock rejected")
		return nil, err
	}
	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("visit_id", rec.VisitID.String()).
		Str("reason", reason).
		Str("actor", actor.UserID).
		Msg("medical record unlocked")
	return rec, nil
}

// guarded runs write against an unlocked record holding a share lock on it,
// so a concurrent Lock waits until the write commits.
func (s *Service) guarded(ctx context.Context, recordID uuid.UUID, write func(ctx context.Context) error) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		rec, err := s.repo.ShareByID(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.IsLocked {
			return apperr.New(apperr.KindRecordLocked, "medical record %s is locked", rec.ID)
		}
		return write(ctx)
	})
}

func (s *Service) AddDiagnosis(ctx context.Context, recordID uuid.UUID, d *Diagnosis, actor auth.Actor) error {
	if strings.TrimSpace(d.Code) == "" {
		return apperr.InvalidInput("code is required")
	}
	d.RecordID = recordID
	d.CreatedBy = actor.UserID
	return s.guarded(ctx, recordID, func(ctx context.Context) error {
		return s.repo.AddDiagnosis(ctx, d)
	})
}

func (s *Service) AddProcedure(ctx context.Context, recordID uuid.UUID, p *Procedure, actor auth.Actor) error {
	if p.ServiceID == uuid.Nil {
		return apperr.InvalidInput("service_id is required")
	}
	p.RecordID = recordID
	p.PerformedBy = actor.UserID
	return s.guarded(ctx, recordID, func(ctx context.Context) error {
		return s.repo.AddProcedure(ctx, p)
	})
}

func (s *Service) AddPrescription(ctx context.Context, recordID uuid.UUID, p *Prescription, actor auth.Actor) error {
	if p.DrugID == uuid.Nil {
		return apperr.InvalidInput("drug_id is required")
	}
	if p.Quantity <= 0 {
		return apperr.InvalidInput("quantity must be positive")
	}
	p.RecordID = recordID
	p.PrescribedBy = actor.UserID
	return s.guarded(ctx, recordID, func(ctx context.Context) error {
		return s.repo.AddPrescription(ctx, p)
	})
}

func (s *Service) AddMaterialUsage(ctx context.Context, recordID uuid.UUID, m *MaterialUsage, actor auth.Actor) error {
	if m.MaterialID == uuid.Nil {
		return apperr.InvalidInput("material_id is required")
	}
	if m.Quantity <= 0 {
		return apperr.InvalidInput("quantity must be positive")
	}
	m.RecordID = recordID
	m.UsedBy = actor.UserID
	return s.guarded(ctx, recordID, func(ctx context.Context) error {
		return s.repo.AddMaterialUsage(ctx, m)
	})
}

func (s *Service) RemoveEntry(ctx context.Context, recordID uuid.UUID, kind EntryKind, entryID uuid.UUID, actor auth.Actor) error {
	if !kind.Valid() {
		return apperr.InvalidInput("unknown entry kind %q", kind)
	}
	err := s.guarded(ctx, recordID, func(ctx context.Context) error {
		return s.repo.RemoveEntry(ctx, kind, recordID, entryID)
	})
	if err == nil {
		s.logger.Info().
			Str("record_id", recordID.String()).
			Str("entry_kind", string(kind)).
			Str("entry_id", entryID.String()).
			Str("actor", actor.UserID).
			Msg("clinical entry removed")
	}
	return err
}
