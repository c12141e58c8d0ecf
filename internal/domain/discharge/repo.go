package discharge

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts s. A second summary for the visit fails with already_exists.
	Create(ctx context.Context, s *Summary) error
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*Summary, error)
}
