package medrecord

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const recCols = `id, visit_id, doctor_id, is_locked, is_draft, locked_at, locked_by,
	unlocked_at, unlocked_by, unlock_reason, created_at, updated_at`

// entryTables maps entry kinds to their tables. Only these names are ever
// interpolated into SQL.
var entryTables = map[EntryKind]string{
	EntryDiagnosis:    "diagnosis",
	EntryProcedure:    "clinical_procedure",
	EntryPrescription: "prescription",
	EntryMaterial:     "material_usage",
}

func (r *repoPG) Create(ctx context.Context, rec *MedicalRecord) error {
	rec.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_record (id, visit_id, doctor_id, is_locked, is_draft)
		VALUES ($1, $2, $3, FALSE, TRUE)
		RETURNING is_locked, is_draft, created_at, updated_at`,
		rec.ID, rec.VisitID, rec.DoctorID,
	).Scan(&rec.IsLocked, &rec.IsDraft, &rec.CreatedAt, &rec.UpdatedAt)
	return db.TranslateError(err, "create medical record")
}

func (r *repoPG) getOne(ctx context.Context, what, query string, arg interface{}) (*MedicalRecord, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, query, arg))
	if err != nil {
		return nil, db.TranslateError(err, what)
	}
	return rec, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return r.getOne(ctx, fmt.Sprintf("medical record %s", id),
		`SELECT `+recCols+` FROM medical_record WHERE id = $1`, id)
}

func (r *repoPG) GetByVisit(ctx context.Context, visitID uuid.UUID) (*MedicalRecord, error) {
	return r.getOne(ctx, fmt.Sprintf("medical record for visit %s", visitID),
		`SELECT `+recCols+` FROM medical_record WHERE visit_id = $1`, visitID)
}

func (r *repoPG) LockByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return r.getOne(ctx, fmt.Sprintf("medical record %s", id),
		`SELECT `+recCols+` FROM medical_record WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) ShareByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return r.getOne(ctx, fmt.Sprintf("medical record %s", id),
		`SELECT `+recCols+` FROM medical_record WHERE id = $1 FOR SHARE`, id)
}

func (r *repoPG) Update(ctx context.Context, rec *MedicalRecord) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medical_record SET
			is_locked = $2, is_draft = $3, locked_at = $4, locked_by = $5,
			unlocked_at = $6, unlocked_by = $7, unlock_reason = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rec.ID, rec.IsLocked, rec.IsDraft, rec.LockedAt, rec.LockedBy,
		rec.UnlockedAt, rec.UnlockedBy, rec.UnlockReason,
	).Scan(&rec.UpdatedAt)
	return db.TranslateError(err, "update medical record")
}

func (r *repoPG) AddDiagnosis(ctx context.Context, d *Diagnosis) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO diagnosis (id, record_id, code, description, is_primary, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		d.ID, d.RecordID, d.Code, d.Description, d.IsPrimary, d.CreatedBy,
	).Scan(&d.CreatedAt)
	return db.TranslateError(err, "add diagnosis")
}

func (r *repoPG) AddProcedure(ctx context.Context, p *Procedure) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_procedure (id, record_id, service_id, notes, performed_by)
		SELECT $1, $2, s.id, $4, $5 FROM service s WHERE s.id = $3
		RETURNING performed_at`,
		p.ID, p.RecordID, p.ServiceID, p.Notes, p.PerformedBy,
	).Scan(&p.PerformedAt)
	return db.TranslateError(err, fmt.Sprintf("service %s", p.ServiceID))
}

func (r *repoPG) AddPrescription(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription (id, record_id, drug_id, quantity, dosage, prescribed_by)
		SELECT $1, $2, d.id, $4, $5, $6 FROM drug d WHERE d.id = $3
		RETURNING created_at`,
		p.ID, p.RecordID, p.DrugID, p.Quantity, p.Dosage, p.PrescribedBy,
	).Scan(&p.CreatedAt)
	return db.TranslateError(err, fmt.Sprintf("drug %s", p.DrugID))
}

func (r *repoPG) AddMaterialUsage(ctx context.Context, m *MaterialUsage) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO material_usage (id, record_id, material_id, quantity, unit_price, used_by)
		SELECT $1, $2, m.id, $4, m.unit_price, $5 FROM material m WHERE m.id = $3
		RETURNING unit_price, used_at`,
		m.ID, m.RecordID, m.MaterialID, m.Quantity, m.UsedBy,
	).Scan(&m.UnitPrice, &m.UsedAt)
	return db.TranslateError(err, fmt.Sprintf("material %s", m.MaterialID))
}

func (r *repoPG) RemoveEntry(ctx context.Context, kind EntryKind, recordID, entryID uuid.UUID) error {
	table, ok := entryTables[kind]
	if !ok {
		return apperr.InvalidInput("unknown entry kind %q", kind)
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM `+table+` WHERE id = $1 AND record_id = $2`, entryID, recordID)
	if err != nil {
		return db.TranslateError(err, "remove "+string(kind))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("%s %s not found on record %s", kind, entryID, recordID)
	}
	return nil
}

func (r *repoPG) CountDiagnoses(ctx context.Context, recordID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM diagnosis WHERE record_id = $1`, recordID).Scan(&n)
	return n, db.TranslateError(err, "count diagnoses")
}

func (r *repoPG) Entries(ctx context.Context, recordID uuid.UUID) (*Entries, error) {
	out := &Entries{}
	q := r.conn(ctx)

	rows, err := q.Query(ctx, `
		SELECT id, record_id, code, description, is_primary, created_by, created_at
		FROM diagnosis WHERE record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, db.TranslateError(err, "list diagnoses")
	}
	out.Diagnoses, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Diagnosis, error) {
		var d Diagnosis
		err := row.Scan(&d.ID, &d.RecordID, &d.Code, &d.Description, &d.IsPrimary, &d.CreatedBy, &d.CreatedAt)
		return &d, err
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT id, record_id, service_id, notes, performed_by, performed_at
		FROM clinical_procedure WHERE record_id = $1 ORDER BY performed_at, id`, recordID)
	if err != nil {
		return nil, db.TranslateError(err, "list procedures")
	}
	out.Procedures, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Procedure, error) {
		var p Procedure
		err := row.Scan(&p.ID, &p.RecordID, &p.ServiceID, &p.Notes, &p.PerformedBy, &p.PerformedAt)
		return &p, err
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT id, record_id, drug_id, quantity, dosage, prescribed_by, created_at
		FROM prescription WHERE record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, db.TranslateError(err, "list prescriptions")
	}
	out.Prescriptions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Prescription, error) {
		var p Prescription
		err := row.Scan(&p.ID, &p.RecordID, &p.DrugID, &p.Quantity, &p.Dosage, &p.PrescribedBy, &p.CreatedAt)
		return &p, err
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT id, record_id, material_id, quantity, unit_price, used_by, used_at
		FROM material_usage WHERE record_id = $1 ORDER BY used_at, id`, recordID)
	if err != nil {
		return nil, db.TranslateError(err, "list material usage")
	}
	out.Materials, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*MaterialUsage, error) {
		var m MaterialUsage
		err := row.Scan(&m.ID, &m.RecordID, &m.MaterialID, &m.Quantity, &m.UnitPrice, &m.UsedBy, &m.UsedAt)
		return &m, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var rec MedicalRecord
	err := row.Scan(&rec.ID, &rec.VisitID, &rec.DoctorID, &rec.IsLocked, &rec.IsDraft, &rec.LockedAt, &rec.LockedBy,
		&rec.UnlockedAt, &rec.UnlockedBy, &rec.UnlockReason, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
