package visit

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const visitCols = `id, patient_id, doctor_id, visit_type, status, arrived_at, ended_at,
	cancel_reason, registered_by, version, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit (id, patient_id, doctor_id, visit_type, status, arrived_at, registered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING version, created_at, updated_at`,
		v.ID, v.PatientID, v.DoctorID, v.Type, v.Status, v.ArrivedAt, v.RegisteredBy,
	).Scan(&v.Version, &v.CreatedAt, &v.UpdatedAt)
	return db.TranslateError(err, "create visit")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
	if err != nil {
		return nil, db.TranslateError(err, fmt.Sprintf("visit %s", id))
	}
	return v, nil
}

func (r *repoPG) LockByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, db.TranslateError(err, fmt.Sprintf("visit %s", id))
	}
	return v, nil
}

func (r *repoPG) Update(ctx context.Context, v *Visit) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE visit SET
			status = $2, doctor_id = $3, ended_at = $4, cancel_reason = $5,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $6
		RETURNING version, updated_at`,
		v.ID, v.Status, v.DoctorID, v.EndedAt, v.CancelReason, v.Version,
	).Scan(&v.Version, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindConcurrentModification, "visit %s was modified concurrently", v.ID)
	}
	return db.TranslateError(err, "update visit")
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Visit, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("visit_type = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit`+clause, args...).Scan(&total); err != nil {
		return nil, 0, db.TranslateError(err, "count visits")
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+visitCols+` FROM visit%s ORDER BY arrived_at DESC LIMIT $%d OFFSET $%d`,
			clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, db.TranslateError(err, "list visits")
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		visits = append(visits, v)
	}
	return visits, total, rows.Err()
}

func (r *repoPG) AddStatusHistory(ctx context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_status_history (id, visit_id, from_status, to_status, reason, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING changed_at`,
		h.ID, h.VisitID, h.FromStatus, h.ToStatus, h.Reason, h.ChangedBy, h.ChangedAt,
	).Scan(&h.ChangedAt)
	return db.TranslateError(err, "add visit status history")
}

func (r *repoPG) GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, from_status, to_status, reason, changed_by, changed_at
		FROM visit_status_history WHERE visit_id = $1 ORDER BY changed_at, id`, visitID)
	if err != nil {
		return nil, db.TranslateError(err, "list visit status history")
	}
	defer rows.Close()

	var out []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.VisitID, &h.FromStatus, &h.ToStatus, &h.Reason, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.PatientID, &v.DoctorID, &v.Type, &v.Status, &v.ArrivedAt, &v.EndedAt,
		&v.CancelReason, &v.RegisteredBy, &v.Version, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
