package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echannel/echannel/internal/platform/db"
)

var (
	// ErrScheduleNotFound is returned when a schedule id does not resolve.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrDoctorNotFound is returned when the doctor a schedule targets does
	// not exist. Directory adapters translate their own sentinel into this.
	ErrDoctorNotFound = errors.New("doctor not found")
)

// DoctorDirectory resolves doctor ids when creating schedules.
type DoctorDirectory interface {
	DoctorExists(ctx context.Context, id uuid.UUID) error
}

// BookingRemover deletes appointments and queue entries tied to a schedule.
// Implemented by the booking service so schedule deletion can cascade.
type BookingRemover interface {
	DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) error
}

// Service covers schedule management for staff and read access for patients.
type Service struct {
	repo     ScheduleRepository
	doctors  DoctorDirectory
	bookings BookingRemover
	tx       db.TxManager
	log      zerolog.Logger
}

func NewService(repo ScheduleRepository, doctors DoctorDirectory, bookings BookingRemover, tx db.TxManager, log zerolog.Logger) *Service {
	return &Service{repo: repo, doctors: doctors, bookings: bookings, tx: tx, log: log.With().Str("component", "scheduling").Logger()}
}

type CreateScheduleInput struct {
	DoctorID  uuid.UUID `json:"doctorId"`
	Date      string    `json:"date"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	Capacity  int       `json:"capacity"`
}

func (s *Service) Create(ctx context.Context, in CreateScheduleInput) (*Schedule, error) {
	date, err := ParseDate(in.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %w", err)
	}
	sched := &Schedule{
		DoctorID:  in.DoctorID,
		Date:      date,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Capacity:  in.Capacity,
		Available: true,
	}
	if err := sched.Validate(); err != nil {
		return nil, err
	}
	if err := s.doctors.DoctorExists(ctx, in.DoctorID); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sched); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return s.repo.GetByID(ctx, sched.ID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Schedule, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

type UpdateScheduleInput struct {
	Date      *string `json:"date"`
	StartTime *string `json:"startTime"`
	EndTime   *string `json:"endTime"`
	Capacity  *int    `json:"capacity"`
	Available *bool   `json:"available"`
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateScheduleInput) (*Schedule, error) {
	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Date != nil {
		date, err := ParseDate(*in.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date: %w", err)
		}
		sched.Date = date
	}
	if in.StartTime != nil {
		sched.StartTime = *in.StartTime
	}
	if in.EndTime != nil {
		sched.EndTime = *in.EndTime
	}
	if in.Capacity != nil {
		sched.Capacity = *in.Capacity
	}
	if in.Available != nil {
		sched.Available = *in.Available
	}
	if err := sched.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, sched); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s.repo.GetByID(ctx, id)
}

// Delete removes a schedule together with its appointments and queue entries.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.bookings.DeleteBySchedule(ctx, id); err != nil {
			return fmt.Errorf("delete schedule bookings: %w", err)
		}
		return s.repo.Delete(ctx, id)
	})
}

// ListScheduleIDsByDoctor and DeleteByDoctor back the doctor-removal cascade.
func (s *Service) ListScheduleIDsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.ListIDsByDoctor(ctx, doctorID)
}

func (s *Service) DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) error {
	return s.repo.DeleteByDoctor(ctx, doctorID)
}
