package visit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
	"github.com/ehr/clinicbill/internal/platform/db"
)

// SettlementChecker decides whether a visit may end without collecting
// more money.
type SettlementChecker interface {
	CheckSettled(ctx context.Context, visitID uuid.UUID) error
}

type Service struct {
	repo       Repository
	tx         db.TxRunner
	settlement SettlementChecker
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		logger: logger.With().Str("component", "visit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetSettlementChecker makes cancellation wait until the visit's bill is
// settled. Without one, any non-terminal visit can be cancelled.
func (s *Service) SetSettlementChecker(c SettlementChecker) {
	s.settlement = c
}

// Register creates a visit in the registered state, or pending for a quick
// emergency registration.
func (s *Service) Register(ctx context.Context, req RegisterRequest, actor auth.Actor) (*Visit, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.InvalidInput("patient_id is required")
	}
	if !req.Type.Valid() {
		return nil, apperr.InvalidInput("invalid visit type: %q", req.Type)
	}
	if req.Quick && req.Type != TypeEmergency {
		return nil, apperr.InvalidInput("quick registration is only available for emergency visits")
	}

	v := &Visit{
		PatientID:    req.PatientID,
		DoctorID:     req.DoctorID,
		Type:         req.Type,
		Status:       StatusRegistered,
		ArrivedAt:    s.now(),
		RegisteredBy: actor.UserID,
	}
	if req.Quick {
		v.Status = StatusPending
	}
	if req.ArrivedAt != nil {
		v.ArrivedAt = req.ArrivedAt.UTC()
	}

	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("type", string(v.Type)).
		Str("status", string(v.Status)).
		Str("actor", actor.UserID).
		Msg("visit registered")
	return v, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

// Lock reads the visit under a row lock. It must run inside a unit of work.
func (s *Service) Lock(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.LockByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Visit, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*StatusHistory, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetStatusHistory(ctx, id)
}

// Transition moves a visit to a new status in its own unit of work.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, reason string, actor auth.Actor) (*Visit, error) {
	var (
		v    *Visit
		from Status
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		v, from, err = s.transition(ctx, id, to, reason, actor)
		return err
	})
	if err != nil {
		s.logger.Warn().
			Str("visit_id", id.String()).
			Str("to", string(to)).
			Str("kind", string(apperr.KindOf(err))).
			Msg("visit transition rejected")
		return nil, err
	}
	s.logger.Info().
		Str("visit_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor.UserID).
		Msg("visit status changed")
	return v, nil
}

// RequestTransition is the staff-facing transition. ready_for_billing is
// reached only by locking the medical record and completed only through
// discharge or checkout.
func (s *Service) RequestTransition(ctx context.Context, id uuid.UUID, to Status, reason string, actor auth.Actor) (*Visit, error) {
	switch to {
	case StatusReadyForBilling:
		return nil, apperr.InvalidTransition("ready_for_billing is entered by locking the medical record")
	case StatusCompleted:
		return nil, apperr.InvalidTransition("completed is entered through discharge or checkout")
	}
	return s.Transition(ctx, id, to, reason, actor)
}

// TransitionTx applies a transition inside the caller's unit of work. The
// caller owns logging once its transaction commits.
func (s *Service) TransitionTx(ctx context.Context, id uuid.UUID, to Status, reason string, actor auth.Actor) (*Visit, error) {
	v, _, err := s.transition(ctx, id, to, reason, actor)
	return v, err
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, reason string, actor auth.Actor) (*Visit, Status, error) {
	v, err := s.repo.LockByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := v.Status
	now := s.now()
	if err := Transition(v, to, reason, now); err != nil {
		return nil, from, err
	}
	if to == StatusCancelled && s.settlement != nil {
		if err := s.settlement.CheckSettled(ctx, id); err != nil {
			return nil, from, err
		}
	}
	if err := s.repo.Update(ctx, v); err != nil {
		return nil, from, err
	}

	h := &StatusHistory{
		VisitID:    v.ID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  actor.UserID,
		ChangedAt:  now,
	}
	if reason != "" {
		h.Reason = &reason
	}
	if err := s.repo.AddStatusHistory(ctx, h); err != nil {
		return nil, from, err
	}
	return v, from, nil
}
