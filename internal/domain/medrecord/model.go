package medrecord

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MedicalRecord maps to the medical_record table. One per visit.
type MedicalRecord struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	VisitID      uuid.UUID  `db:"visit_id" json:"visit_id"`
	DoctorID     string     `db:"doctor_id" json:"doctor_id"`
	IsLocked     bool       `db:"is_locked" json:"is_locked"`
	IsDraft      bool       `db:"is_draft" json:"is_draft"`
	LockedAt     *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	LockedBy     *string    `db:"locked_by" json:"locked_by,omitempty"`
	UnlockedAt   *time.Time `db:"unlocked_at" json:"unlocked_at,omitempty"`
	UnlockedBy   *string    `db:"unlocked_by" json:"unlocked_by,omitempty"`
	UnlockReason *string    `db:"unlock_reason" json:"unlock_reason,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// EntryKind names a clinical entry table guarded by the record lock.
type EntryKind string

const (
	EntryDiagnosis    EntryKind = "diagnosis"
	EntryProcedure    EntryKind = "procedure"
	EntryPrescription EntryKind = "prescription"
	EntryMaterial     EntryKind = "material_usage"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryDiagnosis, EntryProcedure, EntryPrescription, EntryMaterial:
		return true
	}
	return false
}

type Diagnosis struct {
	ID          uuid.UUID `db:"id" json:"id"`
	RecordID    uuid.UUID `db:"record_id" json:"record_id"`
	Code        string    `db:"code" json:"code" validate:"required,max=20"`
	Description string    `db:"description" json:"description" validate:"max=500"`
	IsPrimary   bool      `db:"is_primary" json:"is_primary"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Procedure is a performed service, billed at the service's flat price.
type Procedure struct {
	ID          uuid.UUID `db:"id" json:"id"`
	RecordID    uuid.UUID `db:"record_id" json:"record_id"`
	ServiceID   uuid.UUID `db:"service_id" json:"service_id" validate:"required"`
	Notes       string    `db:"notes" json:"notes,omitempty" validate:"max=1000"`
	PerformedBy string    `db:"performed_by" json:"performed_by"`
	PerformedAt time.Time `db:"performed_at" json:"performed_at"`
}

// Prescription is a drug dispensed against the record. Quantity is the
// dispensed quantity.
type Prescription struct {
	ID           uuid.UUID `db:"id" json:"id"`
	RecordID     uuid.UUID `db:"record_id" json:"record_id"`
	DrugID       uuid.UUID `db:"drug_id" json:"drug_id" validate:"required"`
	Quantity     int       `db:"quantity" json:"quantity" validate:"gt=0"`
	Dosage       string    `db:"dosage" json:"dosage,omitempty" validate:"max=200"`
	PrescribedBy string    `db:"prescribed_by" json:"prescribed_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// MaterialUsage is a consumable used during care. UnitPrice is captured from
// the material catalogue at the time of use.
type MaterialUsage struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	RecordID   uuid.UUID       `db:"record_id" json:"record_id"`
	MaterialID uuid.UUID       `db:"material_id" json:"material_id" validate:"required"`
	Quantity   int             `db:"quantity" json:"quantity" validate:"gt=0"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	UsedBy     string          `db:"used_by" json:"used_by"`
	UsedAt     time.Time       `db:"used_at" json:"used_at"`
}

// Entries is the clinical content of a record.
type Entries struct {
	Diagnoses     []*Diagnosis     `json:"diagnoses"`
	Procedures    []*Procedure     `json:"procedures"`
	Prescriptions []*Prescription  `json:"prescriptions"`
	Materials     []*MaterialUsage `json:"materials"`
}

// RecordView is a record with its entries.
type RecordView struct {
	*MedicalRecord
	Entries
}

type UnlockRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}
