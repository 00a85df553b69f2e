package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// ScheduleRepository persists doctor schedules.
type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Schedule, int, error)
	ListIDsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error)
	DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) error
	SetUnavailable(ctx context.Context, id uuid.UUID) error
}
