package visit

import (
	"time"

	"github.com/google/uuid"
)

// Type is the kind of clinical encounter.
type Type string

const (
	TypeOutpatient Type = "outpatient"
	TypeInpatient  Type = "inpatient"
	TypeEmergency  Type = "emergency"
)

func (t Type) Valid() bool {
	switch t {
	case TypeOutpatient, TypeInpatient, TypeEmergency:
		return true
	}
	return false
}

// Status is the lifecycle state of a visit.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRegistered      Status = "registered"
	StatusWaiting         Status = "waiting"
	StatusInExamination   Status = "in_examination"
	StatusReadyForBilling Status = "ready_for_billing"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// Visit maps to the visit table.
type Visit struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID     *string    `db:"doctor_id" json:"doctor_id,omitempty"`
	Type         Type       `db:"visit_type" json:"type"`
	Status       Status     `db:"status" json:"status"`
	ArrivedAt    time.Time  `db:"arrived_at" json:"arrived_at"`
	EndedAt      *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	CancelReason *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	RegisteredBy string     `db:"registered_by" json:"registered_by"`
	Version      int        `db:"version" json:"version"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// StatusHistory maps to the visit_status_history table.
type StatusHistory struct {
	ID         uuid.UUID `db:"id" json:"id"`
	VisitID    uuid.UUID `db:"visit_id" json:"visit_id"`
	FromStatus Status    `db:"from_status" json:"from_status"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

// RegisterRequest is the payload for registering a new visit.
type RegisterRequest struct {
	PatientID uuid.UUID  `json:"patient_id" validate:"required"`
	Type      Type       `json:"type" validate:"required,oneof=outpatient inpatient emergency"`
	DoctorID  *string    `json:"doctor_id,omitempty" validate:"omitempty,max=64"`
	ArrivedAt *time.Time `json:"arrived_at,omitempty"`
	// Quick registers an emergency visit in the pending state so triage can
	// start before the registration desk completes the record.
	Quick bool `json:"quick"`
}

// TransitionRequest is the payload for a requested status change.
type TransitionRequest struct {
	To     Status `json:"to" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	PatientID *uuid.UUID
	Status    Status
	Type      Type
}
