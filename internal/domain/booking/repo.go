package booking

import (
	"context"

	"github.com/google/uuid"
)

// AppointmentRepository persists appointments.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ExistsForPatientSchedule(ctx context.Context, patientID, scheduleID uuid.UUID) (bool, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) error
}

// QueueRepository persists queue entries and serves the queue views.
type QueueRepository interface {
	Create(ctx context.Context, e *QueueEntry) error
	CountBySchedule(ctx context.Context, scheduleID uuid.UUID) (int, error)
	SmallestQueued(ctx context.Context, scheduleID uuid.UUID) (*QueueEntry, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*QueueEntryView, error)
	ListBySchedule(ctx context.Context, scheduleID uuid.UUID, status QueueStatus) ([]*QueueEntryView, error)
	DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) error
}

// ScheduleStore is the booking engine's read/latch access to schedules.
// GetForUpdate takes a row lock so concurrent bookings on the same schedule
// serialize inside the booking transaction.
type ScheduleStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Schedule, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Schedule, error)
	SetUnavailable(ctx context.Context, id uuid.UUID) error
}

// PatientDirectory and DoctorDirectory resolve booking participants.
// Adapters over the identity service implement them, translating their own
// not-found sentinels into ErrPatientNotFound and ErrDoctorNotFound.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Person, error)
}

type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Person, error)
}
