package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/echannel/echannel/internal/platform/auth"
	"github.com/echannel/echannel/internal/platform/db"
	"github.com/echannel/echannel/internal/platform/notification"
)

var (
	ErrPatientNotFound    = errors.New("patient not found")
	ErrDoctorNotFound     = errors.New("doctor not found")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ScheduleRemover removes a doctor's schedules. Implemented by the
// scheduling domain; wired in as an adapter at startup.
type ScheduleRemover interface {
	ListScheduleIDsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error)
	DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) error
}

// BookingRemover removes a schedule's queue entries and appointments,
// children before parents. Implemented by the booking domain.
type BookingRemover interface {
	DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) error
}

// Mailer sends templated emails. Satisfied by notification.Manager.
type Mailer interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Email, error)
}

type Service struct {
	patients  PatientRepository
	doctors   DoctorRepository
	schedules ScheduleRemover
	bookings  BookingRemover
	tx        db.TxManager
	tokens    *auth.TokenIssuer
	mailer    Mailer
	log       zerolog.Logger
}

func NewService(patients PatientRepository, doctors DoctorRepository, schedules ScheduleRemover, bookings BookingRemover, tx db.TxManager, tokens *auth.TokenIssuer, mailer Mailer, log zerolog.Logger) *Service {
	return &Service{
		patients:  patients,
		doctors:   doctors,
		schedules: schedules,
		bookings:  bookings,
		tx:        tx,
		tokens:    tokens,
		mailer:    mailer,
		log:       log,
	}
}

// RegisterInput carries the fields for patient and staff registration.
type RegisterInput struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Phone    *string `json:"phone"`
	Address  *string `json:"address"`
}

func (in *RegisterInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(in.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if len(in.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}

// Register creates a patient or staff account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, in RegisterInput, role string) (*Patient, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if role != RolePatient && role != RoleStaff {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	if _, err := s.patients.GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrPatientNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	p := &Patient{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Phone:        in.Phone,
		Address:      in.Address,
		Role:         role,
	}
	if err := s.patients.Create(ctx, p); err != nil {
		// Constraint backstop for a racing registration with the same email.
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return p, nil
}

// Login authenticates a patient or staff account and issues a token carrying
// the account's role.
func (s *Service) Login(ctx context.Context, email, password string) (string, *Patient, error) {
	p, err := s.patients.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(p.ID.String(), p.Role)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, p, nil
}

// LoginDoctor authenticates a doctor account.
func (s *Service) LoginDoctor(ctx context.Context, email, password string) (string, *Doctor, error) {
	d, err := s.doctors.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(d.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(d.ID.String(), auth.RoleDoctor)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, d, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	return s.patients.Update(ctx, p)
}

// CreateDoctorInput carries the fields for doctor creation by staff.
type CreateDoctorInput struct {
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	Phone           *string  `json:"phone"`
	Specialization  string   `json:"specialization"`
	Qualification   *string  `json:"qualification"`
	ConsultationFee *float64 `json:"consultationFee"`
}

func (s *Service) CreateDoctor(ctx context.Context, in CreateDoctorInput) (*Doctor, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if strings.TrimSpace(in.Email) == "" {
		return nil, fmt.Errorf("email is required")
	}
	if strings.TrimSpace(in.Specialization) == "" {
		return nil, fmt.Errorf("specialization is required")
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	if _, err := s.doctors.GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrDoctorNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	d := &Doctor{
		Name:            in.Name,
		Email:           in.Email,
		PasswordHash:    string(hash),
		Phone:           in.Phone,
		Specialization:  in.Specialization,
		Qualification:   in.Qualification,
		ConsultationFee: in.ConsultationFee,
		Available:       true,
	}
	if err := s.doctors.Create(ctx, d); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, limit, offset)
}

func (s *Service) UpdateDoctor(ctx context.Context, d *Doctor) error {
	if _, err := s.doctors.GetByID(ctx, d.ID); err != nil {
		return err
	}
	return s.doctors.Update(ctx, d)
}

// DeleteDoctor removes a doctor and everything hanging off them, children
// before parents: queue entries, appointments, schedules, then the doctor
// row, all in one transaction. After commit, every patient is sent a
// best-effort notice that the doctor is gone.
func (s *Service) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		scheduleIDs, err := s.schedules.ListScheduleIDsByDoctor(ctx, id)
		if err != nil {
			return err
		}
		for _, sid := range scheduleIDs {
			if err := s.bookings.DeleteBySchedule(ctx, sid); err != nil {
				return err
			}
		}
		if err := s.schedules.DeleteByDoctor(ctx, id); err != nil {
			return err
		}
		return s.doctors.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.notifyDoctorRemoved(ctx, d)
	return nil
}

func (s *Service) notifyDoctorRemoved(ctx context.Context, d *Doctor) {
	contacts, err := s.patients.ListContacts(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("doctor_id", d.ID.String()).Msg("list patient contacts for removal notice")
		return
	}
	for _, c := range contacts {
		data := map[string]string{
			"patient_name": c.Name,
			"doctor_name":  d.Name,
		}
		if _, err := s.mailer.SendFromTemplate(ctx, notification.TemplateDoctorRemoved, data, c.Email); err != nil {
			s.log.Error().Err(err).Str("recipient", c.Email).Msg("send doctor removal notice")
		}
	}
}
