package visit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	// LockByID reads the visit with a row lock held until the surrounding
	// transaction ends.
	LockByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	// Update persists v if its version is unchanged and increments it.
	Update(ctx context.Context, v *Visit) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Visit, int, error)

	AddStatusHistory(ctx context.Context, h *StatusHistory) error
	GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistory, error)
}
