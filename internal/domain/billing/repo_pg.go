package billing

import (
	"context"
	"errors"
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

const billingCols = `id, visit_id, subtotal, discount, discount_percentage, tax, insurance_coverage,
	total_amount, patient_payable, paid_amount, remaining_amount, payment_status,
	processed_by, processed_at, created_by, version, created_at, updated_at`

const itemCols = `id, billing_id, item_type, source_ref, description, quantity, unit_price,
	discount, total_price, created_at`

const paymentCols = `id, billing_id, amount, method, reference, amount_received, change_given,
	received_by, received_at, notes`

func (r *repoPG) CreateWithItems(ctx context.Context, b *Billing, items []*Item) error {
	b.ID = uuid.New()
	b.Version = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billing (id, visit_id, subtotal, discount, discount_percentage, tax, insurance_coverage,
			total_amount, patient_payable, paid_amount, remaining_amount, payment_status, created_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`,
		b.ID, b.VisitID, b.Subtotal, b.Discount, b.DiscountPercentage, b.Tax, b.InsuranceCoverage,
		b.TotalAmount, b.PatientPayable, b.PaidAmount, b.RemainingAmount, b.PaymentStatus, b.CreatedBy, b.Version,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return db.TranslateError(err, fmt.Sprintf("billing for visit %s", b.VisitID))
	}
	return r.AddItems(ctx, b.ID, items)
}

func (r *repoPG) getOne(ctx context.Context, what, query string, arg interface{}) (*Billing, error) {
	b, err := scanBilling(r.conn(ctx).QueryRow(ctx, query, arg))
	if err != nil {
		return nil, db.TranslateError(err, what)
	}
	return b, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Billing, error) {
	return r.getOne(ctx, fmt.Sprintf("billing %s", id),
		`SELECT `+billingCols+` FROM billing WHERE id = $1`, id)
}

func (r *repoPG) GetByVisit(ctx context.Context, visitID uuid.UUID) (*Billing, error) {
	return r.getOne(ctx, fmt.Sprintf("billing for visit %s", visitID),
		`SELECT `+billingCols+` FROM billing WHERE visit_id = $1`, visitID)
}

func (r *repoPG) LockByID(ctx context.Context, id uuid.UUID) (*Billing, error) {
	return r.getOne(ctx, fmt.Sprintf("billing %s", id),
		`SELECT `+billingCols+` FROM billing WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) LockByVisit(ctx context.Context, visitID uuid.UUID) (*Billing, error) {
	return r.getOne(ctx, fmt.Sprintf("billing for visit %s", visitID),
		`SELECT `+billingCols+` FROM billing WHERE visit_id = $1 FOR UPDATE`, visitID)
}

func (r *repoPG) Update(ctx context.Context, b *Billing) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE billing SET
			subtotal = $2, discount = $3, discount_percentage = $4, tax = $5, insurance_coverage = $6,
			total_amount = $7, patient_payable = $8, paid_amount = $9, remaining_amount = $10,
			payment_status = $11, processed_by = $12, processed_at = $13,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $14
		RETURNING version, updated_at`,
		b.ID, b.Subtotal, b.Discount, b.DiscountPercentage, b.Tax, b.InsuranceCoverage,
		b.TotalAmount, b.PatientPayable, b.PaidAmount, b.RemainingAmount,
		b.PaymentStatus, b.ProcessedBy, b.ProcessedAt, b.Version,
	).Scan(&b.Version, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindConcurrentModification, "billing %s was modified concurrently", b.ID)
	}
	return db.TranslateError(err, "update billing")
}

func (r *repoPG) Items(ctx context.Context, billingID uuid.UUID) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM billing_item WHERE billing_id = $1 ORDER BY created_at, id`, billingID)
	if err != nil {
		return nil, db.TranslateError(err, "list billing items")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Item, error) {
		var it Item
		err := row.Scan(&it.ID, &it.BillingID, &it.Type, &it.SourceRef, &it.Description, &it.Quantity,
			&it.UnitPrice, &it.Discount, &it.TotalPrice, &it.CreatedAt)
		return &it, err
	})
}

// AddItems inserts items in one batch round trip.
func (r *repoPG) AddItems(ctx context.Context, billingID uuid.UUID, items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		it.ID = uuid.New()
		it.BillingID = billingID
		batch.Queue(`
			INSERT INTO billing_item (id, billing_id, item_type, source_ref, description, quantity,
				unit_price, discount, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at`,
			it.ID, it.BillingID, it.Type, it.SourceRef, it.Description, it.Quantity,
			it.UnitPrice, it.Discount, it.TotalPrice)
	}
	br := r.conn(ctx).SendBatch(ctx, batch)
	for _, it := range items {
		if err := br.QueryRow().Scan(&it.CreatedAt); err != nil {
			br.Close()
			return db.TranslateError(err, "billing item "+it.SourceRef)
		}
	}
	return db.TranslateError(br.Close(), "add billing items")
}

func (r *repoPG) RemoveItems(ctx context.Context, billingID uuid.UUID, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM billing_item WHERE billing_id = $1 AND id = ANY($2)`, billingID, itemIDs)
	return db.TranslateError(err, "remove billing items")
}

func (r *repoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment (id, billing_id, amount, method, reference, amount_received, change_given,
			received_by, received_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING received_at`,
		p.ID, p.BillingID, p.Amount, p.Method, p.Reference, p.AmountReceived, p.ChangeGiven,
		p.ReceivedBy, p.ReceivedAt, p.Notes,
	).Scan(&p.ReceivedAt)
	return db.TranslateError(err, "record payment")
}

func (r *repoPG) Payments(ctx context.Context, billingID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM payment WHERE billing_id = $1 ORDER BY received_at, id`, billingID)
	if err != nil {
		return nil, db.TranslateError(err, "list payments")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Payment, error) {
		var p Payment
		err := row.Scan(&p.ID, &p.BillingID, &p.Amount, &p.Method, &p.Reference, &p.AmountReceived,
			&p.ChangeGiven, &p.ReceivedBy, &p.ReceivedAt, &p.Notes)
		return &p, err
	})
}

func scanBilling(row pgx.Row) (*Billing, error) {
	var b Billing
	err := row.Scan(&b.ID, &b.VisitID, &b.Subtotal, &b.Discount, &b.DiscountPercentage, &b.Tax,
		&b.InsuranceCoverage, &b.TotalAmount, &b.PatientPayable, &b.PaidAmount, &b.RemainingAmount,
		&b.PaymentStatus, &b.ProcessedBy, &b.ProcessedAt, &b.CreatedBy, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
