package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echannel/echannel/internal/platform/db"
	"github.com/echannel/echannel/internal/platform/notification"
	"github.com/echannel/echannel/internal/platform/realtime"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrScheduleExpired     = errors.New("schedule has already started")
	ErrDuplicateBooking    = errors.New("patient already booked on this schedule")
	ErrScheduleUnavailable = errors.New("schedule is not available")
	ErrCapacityReached     = errors.New("schedule is fully booked")
	ErrBookingConflict     = errors.New("booking conflict, please retry")
	ErrQueueEmpty          = errors.New("queue is empty")
	ErrNotScheduleOwner    = errors.New("schedule belongs to another doctor")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrQueueEntryNotFound  = errors.New("queue entry not found")
	ErrInvalidStatus       = errors.New("invalid queue status filter")
)

// Queue advancement messages published to the per-doctor topic.
const (
	msgNextPatient = "Next patient please"
	msgQueueEmpty  = "Queue is empty"
)

// Mailer sends templated emails. Satisfied by notification.Manager.
type Mailer interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Email, error)
}

// Service is the booking engine: appointment creation with queue number
// assignment and capacity latching, queue advancement with live updates,
// and the queue read side.
type Service struct {
	appts     AppointmentRepository
	queue     QueueRepository
	schedules ScheduleStore
	patients  PatientDirectory
	doctors   DoctorDirectory
	tx        db.TxManager
	mailer    Mailer
	publisher realtime.Publisher
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(
	appts AppointmentRepository,
	queue QueueRepository,
	schedules ScheduleStore,
	patients PatientDirectory,
	doctors DoctorDirectory,
	tx db.TxManager,
	mailer Mailer,
	publisher realtime.Publisher,
	log zerolog.Logger,
) *Service {
	return &Service{
		appts:     appts,
		queue:     queue,
		schedules: schedules,
		patients:  patients,
		doctors:   doctors,
		tx:        tx,
		mailer:    mailer,
		publisher: publisher,
		log:       log.With().Str("component", "booking").Logger(),
		now:       time.Now,
	}
}

// BookingConfirmation is the result of a successful booking.
type BookingConfirmation struct {
	Appointment *Appointment `json:"appointment"`
	QueueEntry  *QueueEntry  `json:"queueEntry"`
	SlotTime    string       `json:"slotTime"`
}

// CreateAppointment books the given patient onto the given schedule. The
// checks and both inserts run in a single transaction holding the schedule
// row lock, so concurrent bookings on one schedule serialize. When the
// occupancy check finds the schedule already full, the unavailable latch is
// still persisted before the conflict is reported.
func (s *Service) CreateAppointment(ctx context.Context, patientID, doctorID, scheduleID uuid.UUID) (*BookingConfirmation, error) {
	patient, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.doctors.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	var (
		appt        *Appointment
		entry       *QueueEntry
		slotTime    string
		date        string
		capacityHit bool
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		sched, err := s.schedules.GetForUpdate(ctx, scheduleID)
		if err != nil {
			return err
		}
		if sched.DoctorID != doctorID {
			return ErrScheduleNotFound
		}
		expired, err := sched.Expired(s.now())
		if err != nil {
			return err
		}
		if expired {
			return ErrScheduleExpired
		}
		dup, err := s.appts.ExistsForPatientSchedule(ctx, patientID, scheduleID)
		if err != nil {
			return err
		}
		if dup {
			return ErrDuplicateBooking
		}
		if !sched.Available {
			return ErrScheduleUnavailable
		}
		occupied, err := s.queue.CountBySchedule(ctx, scheduleID)
		if err != nil {
			return err
		}
		if occupied >= sched.Capacity {
			// Commit the latch even though the booking is refused.
			capacityHit = true
			return s.schedules.SetUnavailable(ctx, scheduleID)
		}

		slotTime, err = sched.SlotTime(occupied)
		if err != nil {
			return err
		}
		appt = &Appointment{
			PatientID:  patientID,
			DoctorID:   doctorID,
			ScheduleID: scheduleID,
			Status:     AppointmentBooked,
		}
		if err := s.appts.Create(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		entry = &QueueEntry{
			AppointmentID: appt.ID,
			ScheduleID:    scheduleID,
			QueueNumber:   occupied + 1,
			Status:        QueueQueued,
		}
		if err := s.queue.Create(ctx, entry); err != nil {
			return fmt.Errorf("create queue entry: %w", err)
		}
		date = sched.Date.Format(dateLayout)
		if occupied+1 >= sched.Capacity {
			return s.schedules.SetUnavailable(ctx, scheduleID)
		}
		return nil
	})
	if err != nil {
		return nil, translateConflict(err)
	}
	if capacityHit {
		return nil, ErrCapacityReached
	}

	s.sendConfirmation(ctx, patient, doctor, date, entry.QueueNumber, slotTime)

	return &BookingConfirmation{Appointment: appt, QueueEntry: entry, SlotTime: slotTime}, nil
}

// translateConflict maps unique violations from racing inserts onto domain
// errors. The constraints back up the row lock, not replace it.
func translateConflict(err error) error {
	switch db.ConstraintName(err) {
	case ConstraintPatientSchedule:
		return ErrDuplicateBooking
	case ConstraintQueueNumber:
		return ErrBookingConflict
	}
	return err
}

func (s *Service) sendConfirmation(ctx context.Context, patient, doctor *Person, date string, queueNumber int, slotTime string) {
	data := map[string]string{
		"patient_name": patient.Name,
		"doctor_name":  doctor.Name,
		"date":         date,
		"queue_number": strconv.Itoa(queueNumber),
		"slot_time":    slotTime,
	}
	if _, err := s.mailer.SendFromTemplate(ctx, notification.TemplateAppointmentConfirmation, data, patient.Email); err != nil {
		// Best effort: the booking is committed either way.
		s.log.Warn().Err(err).Str("recipient", patient.Email).Msg("confirmation email failed")
	}
}

// CompleteCurrent marks the lowest queued number on the schedule as done and
// publishes the next number, or -1 when the queue drained, to the doctor's
// topic. callerDoctorID is the authenticated doctor; pass uuid.Nil for staff
// callers, which skips the ownership check.
func (s *Service) CompleteCurrent(ctx context.Context, scheduleID, callerDoctorID uuid.UUID) (*QueueEntry, error) {
	sched, err := s.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if callerDoctorID != uuid.Nil && sched.DoctorID != callerDoctorID {
		return nil, ErrNotScheduleOwner
	}

	var completed *QueueEntry
	var next *QueueEntry
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		completed, err = s.queue.SmallestQueued(ctx, scheduleID)
		if err != nil {
			return err
		}
		if err := s.queue.MarkDone(ctx, completed.ID); err != nil {
			return fmt.Errorf("mark done: %w", err)
		}
		next, err = s.queue.SmallestQueued(ctx, scheduleID)
		if errors.Is(err, ErrQueueEmpty) {
			next = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	completed.Status = QueueDone

	update := realtime.QueueUpdate{DoctorID: sched.DoctorID, CurrentQueueNumber: -1, Message: msgQueueEmpty}
	if next != nil {
		update.CurrentQueueNumber = next.QueueNumber
		update.Message = msgNextPatient
	}
	if err := s.publisher.Publish(ctx, realtime.QueueTopic(sched.DoctorID), update); err != nil {
		// Best effort: the completion is committed either way.
		s.log.Warn().Err(err).Str("schedule_id", scheduleID.String()).Msg("queue update publish failed")
	}
	return completed, nil
}

// ListQueue returns the schedule's queue in queue number order, optionally
// filtered by status.
func (s *Service) ListQueue(ctx context.Context, scheduleID uuid.UUID, status string) ([]*QueueEntryView, error) {
	var filter QueueStatus
	switch QueueStatus(status) {
	case "", QueueQueued, QueueDone:
		filter = QueueStatus(status)
	default:
		return nil, ErrInvalidStatus
	}
	if _, err := s.schedules.Get(ctx, scheduleID); err != nil {
		return nil, err
	}
	return s.queue.ListBySchedule(ctx, scheduleID, filter)
}

// GetQueueForAppointment returns the queue entry backing an appointment.
func (s *Service) GetQueueForAppointment(ctx context.Context, appointmentID uuid.UUID) (*QueueEntryView, error) {
	return s.queue.GetByAppointment(ctx, appointmentID)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appts.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appts.ListByPatient(ctx, patientID, limit, offset)
}

// DeleteBySchedule removes the schedule's queue entries and appointments.
// Queue entries go first because they reference appointments. Callers run
// this inside their own transaction.
func (s *Service) DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) error {
	if err := s.queue.DeleteBySchedule(ctx, scheduleID); err != nil {
		return fmt.Errorf("delete queue entries: %w", err)
	}
	if err := s.appts.DeleteBySchedule(ctx, scheduleID); err != nil {
		return fmt.Errorf("delete appointments: %w", err)
	}
	return nil
}
