package medrecord

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, rec *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*MedicalRecord, error)
	// LockByID reads the record FOR UPDATE.
	LockByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	// ShareByID reads the record FOR SHARE so concurrent entry writes proceed
	// while a lock attempt waits for them.
	ShareByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	Update(ctx context.Context, rec *MedicalRecord) error

	AddDiagnosis(ctx context.Context, d *Diagnosis) error
	AddProcedure(ctx context.Context, p *Procedure) error
	AddPrescription(ctx context.Context, p *Prescription) error
	// AddMaterialUsage captures the material's current unit price.
	AddMaterialUsage(ctx context.Context, m *MaterialUsage) error
	RemoveEntry(ctx context.Context, kind EntryKind, recordID, entryID uuid.UUID) error

	CountDiagnoses(ctx context.Context, recordID uuid.UUID) (int, error)
	Entries(ctx context.Context, recordID uuid.UUID) (*Entries, error)
}
