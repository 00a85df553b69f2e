package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentBooked AppointmentStatus = "BOOKED"
)

// Appointment maps to the appointment table. One row per (patient, schedule)
// pair, enforced by a unique constraint.
type Appointment struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	PatientID  uuid.UUID         `db:"patient_id" json:"patientId"`
	DoctorID   uuid.UUID         `db:"doctor_id" json:"doctorId"`
	ScheduleID uuid.UUID         `db:"schedule_id" json:"scheduleId"`
	Status     AppointmentStatus `db:"status" json:"status"`
	CreatedAt  time.Time         `db:"created_at" json:"createdAt"`
}

type QueueStatus string

const (
	QueueQueued QueueStatus = "QUEUED"
	QueueDone   QueueStatus = "DONE"
)

// QueueEntry maps to the queue_entry table. Queue numbers are dense per
// schedule, starting at 1, enforced by a unique (schedule_id, queue_number)
// constraint.
type QueueEntry struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	AppointmentID uuid.UUID   `db:"appointment_id" json:"appointmentId"`
	ScheduleID    uuid.UUID   `db:"schedule_id" json:"scheduleId"`
	QueueNumber   int         `db:"queue_number" json:"queueNumber"`
	Status        QueueStatus `db:"status" json:"status"`
	CreatedAt     time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updatedAt"`
}

// QueueEntryView is the queue listing row: a queue entry joined with the
// patient it belongs to and the schedule context a reception desk needs.
type QueueEntryView struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	AppointmentID uuid.UUID   `db:"appointment_id" json:"appointmentId"`
	ScheduleID    uuid.UUID   `db:"schedule_id" json:"scheduleId"`
	QueueNumber   int         `db:"queue_number" json:"queueNumber"`
	Status        QueueStatus `db:"status" json:"status"`
	PatientName   string      `db:"patient_name" json:"patientName"`
	PatientEmail  string      `db:"patient_email" json:"patientEmail"`
	DoctorID      uuid.UUID   `db:"doctor_id" json:"doctorId"`
	ScheduleDate  time.Time   `db:"schedule_date" json:"scheduleDate"`
	StartTime     string      `db:"start_time" json:"startTime"`
	EndTime       string      `db:"end_time" json:"endTime"`
}

// Person is the slice of a patient or doctor record the booking engine
// needs. Directory adapters map their own models into it.
type Person struct {
	ID    uuid.UUID
	Name  string
	Email string
}

const (
	clockLayout = "15:04"
	dateLayout  = "2006-01-02"
)

// Schedule is the booking engine's projection of a doctor schedule.
type Schedule struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime string
	EndTime   string
	Capacity  int
	Available bool
}

// StartInstant combines the schedule date and start time into an absolute
// instant in the date's location.
func (s *Schedule) StartInstant() (time.Time, error) {
	start, err := time.Parse(clockLayout, s.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q", s.StartTime)
	}
	d := s.Date
	return time.Date(d.Year(), d.Month(), d.Day(), start.Hour(), start.Minute(), 0, 0, d.Location()), nil
}

// Expired reports whether the schedule's start has already passed.
func (s *Schedule) Expired(now time.Time) (bool, error) {
	start, err := s.StartInstant()
	if err != nil {
		return false, err
	}
	return start.Before(now), nil
}

// SlotMinutes is the per-patient share of the schedule window, floored to
// whole minutes: (end - start) / capacity.
func (s *Schedule) SlotMinutes() (int, error) {
	start, err := time.Parse(clockLayout, s.StartTime)
	if err != nil {
		return 0, fmt.Errorf("invalid start time %q", s.StartTime)
	}
	end, err := time.Parse(clockLayout, s.EndTime)
	if err != nil {
		return 0, fmt.Errorf("invalid end time %q", s.EndTime)
	}
	if s.Capacity <= 0 {
		return 0, fmt.Errorf("capacity must be positive")
	}
	total := int(end.Sub(start).Minutes())
	return total / s.Capacity, nil
}

// SlotTime is the estimated consultation time for the patient holding the
// slot after occupiedBefore earlier bookings, as an HH:MM wall-clock value.
func (s *Schedule) SlotTime(occupiedBefore int) (string, error) {
	start, err := time.Parse(clockLayout, s.StartTime)
	if err != nil {
		return "", fmt.Errorf("invalid start time %q", s.StartTime)
	}
	slot, err := s.SlotMinutes()
	if err != nil {
		return "", err
	}
	return start.Add(time.Duration(occupiedBefore*slot) * time.Minute).Format(clockLayout), nil
}
