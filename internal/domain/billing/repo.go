package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// CreateWithItems inserts b and its items. A second billing for the same
	// visit fails with already_exists.
	CreateWithItems(ctx context.Context, b *Billing, items []*Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Billing, error)
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*Billing, error)
	// LockByID and LockByVisit read the billing FOR UPDATE.
	LockByID(ctx context.Context, id uuid.UUID) (*Billing, error)
	LockByVisit(ctx context.Context, visitID uuid.UUID) (*Billing, error)
	// Update persists b when its version still matches and bumps the version.
	Update(ctx context.Context, b *Billing) error

	Items(ctx context.Context, billingID uuid.UUID) ([]*Item, error)
	AddItems(ctx context.Context, billingID uuid.UUID, items []*Item) error
	RemoveItems(ctx context.Context, billingID uuid.UUID, itemIDs []uuid.UUID) error

	AddPayment(ctx context.Context, p *Payment) error
	Payments(ctx context.Context, billingID uuid.UUID) ([]*Payment, error)
}
