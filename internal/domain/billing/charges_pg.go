package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinicbill/internal/platform/db"
)

type chargeReaderPG struct {
	pool *pgxpool.Pool
}

func NewChargeReader(pool *pgxpool.Pool) ChargeReader {
	return &chargeReaderPG{pool: pool}
}

func (r *chargeReaderPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *chargeReaderPG) Prescriptions(ctx context.Context, visitID uuid.UUID) ([]DrugCharge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, d.name, p.quantity, d.unit_price
		FROM prescription p
		JOIN medical_record mr ON mr.id = p.record_id
		JOIN drug d ON d.id = p.drug_id
		WHERE mr.visit_id = $1
		ORDER BY p.created_at, p.id`, visitID)
	if err != nil {
		return nil, db.TranslateError(err, "read prescription charges")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DrugCharge, error) {
		var c DrugCharge
		err := row.Scan(&c.PrescriptionID, &c.DrugName, &c.Quantity, &c.UnitPrice)
		return c, err
	})
}

func (r *chargeReaderPG) Procedures(ctx context.Context, visitID uuid.UUID) ([]ProcedureCharge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT cp.id, s.name, s.price
		FROM clinical_procedure cp
		JOIN medical_record mr ON mr.id = cp.record_id
		JOIN service s ON s.id = cp.service_id
		WHERE mr.visit_id = $1
		ORDER BY cp.performed_at, cp.id`, visitID)
	if err != nil {
		return nil, db.TranslateError(err, "read procedure charges")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProcedureCharge, error) {
		var c ProcedureCharge
		err := row.Scan(&c.ProcedureID, &c.ServiceName, &c.Price)
		return c, err
	})
}

func (r *chargeReaderPG) Materials(ctx context.Context, visitID uuid.UUID) ([]MaterialCharge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT mu.id, m.name, mu.quantity, mu.unit_price
		FROM material_usage mu
		JOIN medical_record mr ON mr.id = mu.record_id
		JOIN material m ON m.id = mu.material_id
		WHERE mr.visit_id = $1
		ORDER BY mu.used_at, mu.id`, visitID)
	if err != nil {
		return nil, db.TranslateError(err, "read material charges")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MaterialCharge, error) {
		var c MaterialCharge
		err := row.Scan(&c.UsageID, &c.MaterialName, &c.Quantity, &c.UnitPrice)
		return c, err
	})
}

func (r *chargeReaderPG) RoomStays(ctx context.Context, visitID uuid.UUID) ([]RoomStayCharge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT rs.id, rm.name, rm.daily_rate, rs.check_in, rs.check_out
		FROM room_stay rs
		JOIN room rm ON rm.id = rs.room_id
		WHERE rs.visit_id = $1
		ORDER BY rs.check_in, rs.id`, visitID)
	if err != nil {
		return nil, db.TranslateError(err, "read room charges")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RoomStayCharge, error) {
		var c RoomStayCharge
		err := row.Scan(&c.StayID, &c.RoomName, &c.DailyRate, &c.CheckIn, &c.CheckOut)
		return c, err
	})
}
