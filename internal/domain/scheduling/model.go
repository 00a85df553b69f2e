package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schedule maps to the schedule table: a doctor's bookable time window on a
// given date with a fixed capacity. Available is a one-way latch: it is set
// false when the schedule fills and never automatically re-enabled.
type Schedule struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctorId"`
	Date      time.Time `db:"date" json:"date"`
	StartTime string    `db:"start_time" json:"startTime"`
	EndTime   string    `db:"end_time" json:"endTime"`
	Capacity  int       `db:"capacity" json:"capacity"`
	Available bool      `db:"available" json:"available"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

const (
	clockLayout = "15:04"
	dateLayout  = "2006-01-02"
)

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseClock parses an HH:MM wall-clock value.
func ParseClock(s string) (time.Time, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	return t, nil
}

// StartInstant combines the schedule date and start time into an absolute
// instant in the date's location.
func (s *Schedule) StartInstant() (time.Time, error) {
	start, err := ParseClock(s.StartTime)
	if err != nil {
		return time.Time{}, err
	}
	d := s.Date
	return time.Date(d.Year(), d.Month(), d.Day(), start.Hour(), start.Minute(), 0, 0, d.Location()), nil
}

// Validate checks the fields required for a bookable schedule.
func (s *Schedule) Validate() error {
	if s.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if s.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if s.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	start, err := ParseClock(s.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseClock(s.EndTime)
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("end_time must be after start_time")
	}
	return nil
}
