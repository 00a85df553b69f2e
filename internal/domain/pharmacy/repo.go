package pharmacy

import (
	"context"

	"github.com/google/uuid"
)

// PrescriptionRepository persists prescriptions and their images.
type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
}

// OrderRepository persists pharmacy orders.
type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status OrderStatus) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*OrderView, int, error)
	ListByStatus(ctx context.Context, status OrderStatus, limit, offset int) ([]*OrderView, int, error)
}
