package discharge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinicbill/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Create(ctx context.Context, s *Summary) error {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO discharge_summary (id, visit_id, final_diagnosis, discharge_condition, instructions,
			follow_up_date, discharged_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		s.ID, s.VisitID, s.FinalDiagnosis, s.DischargeCondition, s.Instructions,
		s.FollowUpDate, s.DischargedAt, s.CreatedBy,
	).Scan(&s.CreatedAt)
	return db.TranslateError(err, fmt.Sprintf("discharge summary for visit %s", s.VisitID))
}

func (r *repoPG) GetByVisit(ctx context.Context, visitID uuid.UUID) (*Summary, error) {
	var s Summary
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, visit_id, final_diagnosis, discharge_condition, instructions, follow_up_date,
			discharged_at, created_by, created_at
		FROM discharge_summary WHERE visit_id = $1`, visitID,
	).Scan(&s.ID, &s.VisitID, &s.FinalDiagnosis, &s.DischargeCondition, &s.Instructions, &s.FollowUpDate,
		&s.DischargedAt, &s.CreatedBy, &s.CreatedAt)
	if err != nil {
		return nil, db.TranslateError(err, fmt.Sprintf("discharge summary for visit %s", visitID))
	}
	return &s, nil
}
