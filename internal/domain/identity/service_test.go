package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echannel/echannel/internal/platform/auth"
	"github.com/echannel/echannel/internal/platform/notification"
)

// -- Mock Repositories --

type mockPatientRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) GetByEmail(_ context.Context, email string) (*Patient, error) {
	for _, p := range m.patients {
		if p.Email == email {
			return p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	for _, p := range m.patients {
		if p.Role == RolePatient {
			result = append(result, p)
		}
	}
	return result, len(result), nil
}

func (m *mockPatientRepo) ListContacts(_ context.Context) ([]Contact, error) {
	var contacts []Contact
	for _, p := range m.patients {
		if p.Role == RolePatient {
			contacts = append(contacts, Contact{Name: p.Name, Email: p.Email})
		}
	}
	return contacts, nil
}

type mockDoctorRepo struct {
	doctors map[uuid.UUID]*Doctor
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{doctors: make(map[uuid.UUID]*Doctor)}
}

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = time.Now()
	m.doctors[d.ID] = d
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return d, nil
}

func (m *mockDoctorRepo) GetByEmail(_ context.Context, email string) (*Doctor, error) {
	for _, d := range m.doctors {
		if d.Email == email {
			return d, nil
		}
	}
	return nil, ErrDoctorNotFound
}

func (m *mockDoctorRepo) Update(_ context.Context, d *Doctor) error {
	m.doctors[d.ID] = d
	return nil
}

func (m *mockDoctorRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.doctors, id)
	return nil
}

func (m *mockDoctorRepo) List(_ context.Context, limit, offset int) ([]*Doctor, int, error) {
	var result []*Doctor
	for _, d := range m.doctors {
		result = append(result, d)
	}
	return result, len(result), nil
}

// -- Mock collaborators --

type mockScheduleRemover struct {
	byDoctor map[uuid.UUID][]uuid.UUID
	deleted  []uuid.UUID
}

func newMockScheduleRemover() *mockScheduleRemover {
	return &mockScheduleRemover{byDoctor: make(map[uuid.UUID][]uuid.UUID)}
}

func (m *mockScheduleRemover) ListScheduleIDsByDoctor(_ context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	return m.byDoctor[doctorID], nil
}

func (m *mockScheduleRemover) DeleteByDoctor(_ context.Context, doctorID uuid.UUID) error {
	m.deleted = append(m.deleted, doctorID)
	delete(m.byDoctor, doctorID)
	return nil
}

type mockBookingRemover struct {
	deletedSchedules []uuid.UUID
}

func (m *mockBookingRemover) DeleteBySchedule(_ context.Context, scheduleID uuid.UUID) error {
	m.deletedSchedules = append(m.deletedSchedules, scheduleID)
	return nil
}

// fakeTxManager runs the function directly; the mock repos have no
// transaction semantics.
type fakeTxManager struct{}

func (fakeTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *mockPatientRepo, *mockDoctorRepo, *mockScheduleRemover, *mockBookingRemover, *notification.MockEmailSender) {
	patients := newMockPatientRepo()
	doctors := newMockDoctorRepo()
	schedules := newMockScheduleRemover()
	bookings := &mockBookingRemover{}
	sender := &notification.MockEmailSender{}
	mailer := notification.NewManager(sender, notification.NewTemplateEngine())
	tokens := auth.NewTokenIssuer([]byte("test-secret-key-for-identity-tests"), "echannel", time.Hour)
	svc := NewService(patients, doctors, schedules, bookings, fakeTxManager{}, tokens, mailer, zerolog.Nop())
	return svc, patients, doctors, schedules, bookings, sender
}

// -- Registration & login --

func TestRegister_CreatesPatientWithHashedPassword(t *testing.T) {
	svc, patients, _, _, _, _ := newTestService()

	p, err := svc.Register(context.Background(), RegisterInput{
		Name:     "Jane Perera",
		Email:    "jane@example.com",
		Password: "supersecret",
	}, RolePatient)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if p.ID == uuid.Nil {
		t.Fatal("expected an assigned ID")
	}
	if p.Role != RolePatient {
		t.Fatalf("expected role patient, got %s", p.Role)
	}
	if p.PasswordHash == "supersecret" || p.PasswordHash == "" {
		t.Fatal("password must be stored hashed")
	}
	if len(patients.patients) != 1 {
		t.Fatalf("expected 1 stored patient, got %d", len(patients.patients))
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	in := RegisterInput{Name: "Jane", Email: "jane@example.com", Password: "supersecret"}
	if _, err := svc.Register(context.Background(), in, RolePatient); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	_, err := svc.Register(context.Background(), in, RolePatient)
	if err != ErrDuplicateEmail {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	tests := []struct {
		name string
		in   RegisterInput
		role string
	}{
		{"missing name", RegisterInput{Email: "a@example.com", Password: "supersecret"}, RolePatient},
		{"missing email", RegisterInput{Name: "A", Password: "supersecret"}, RolePatient},
		{"short password", RegisterInput{Name: "A", Email: "a@example.com", Password: "short"}, RolePatient},
		{"bad role", RegisterInput{Name: "A", Email: "a@example.com", Password: "supersecret"}, "doctor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tt.in, tt.role); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLogin_Success(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	if _, err := svc.Register(context.Background(), RegisterInput{
		Name: "Jane", Email: "jane@example.com", Password: "supersecret",
	}, RolePatient); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	token, p, err := svc.Login(context.Background(), "jane@example.com", "supersecret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if p.Email != "jane@example.com" {
		t.Fatalf("unexpected account %q", p.Email)
	}
}

func TestLogin_WrongPasswordOrUnknownEmail(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	if _, err := svc.Register(context.Background(), RegisterInput{
		Name: "Jane", Email: "jane@example.com", Password: "supersecret",
	}, RolePatient); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, _, err := svc.Login(context.Background(), "jane@example.com", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "nobody@example.com", "supersecret"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginDoctor_Success(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	if _, err := svc.CreateDoctor(context.Background(), CreateDoctorInput{
		Name: "Dr. Silva", Email: "silva@example.com", Password: "supersecret", Specialization: "Cardiology",
	}); err != nil {
		t.Fatalf("CreateDoctor failed: %v", err)
	}

	token, d, err := svc.LoginDoctor(context.Background(), "silva@example.com", "supersecret")
	if err != nil {
		t.Fatalf("LoginDoctor failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if d.Specialization != "Cardiology" {
		t.Fatalf("unexpected doctor %+v", d)
	}
	if !d.Available {
		t.Fatal("new doctors should start available")
	}
}

// -- Doctor management --

func TestCreateDoctor_Validation(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	tests := []struct {
		name string
		in   CreateDoctorInput
	}{
		{"missing name", CreateDoctorInput{Email: "d@example.com", Password: "supersecret", Specialization: "ENT"}},
		{"missing email", CreateDoctorInput{Name: "D", Password: "supersecret", Specialization: "ENT"}},
		{"missing specialization", CreateDoctorInput{Name: "D", Email: "d@example.com", Password: "supersecret"}},
		{"short password", CreateDoctorInput{Name: "D", Email: "d@example.com", Password: "pw", Specialization: "ENT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateDoctor(context.Background(), tt.in); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCreateDoctor_DuplicateEmail(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	in := CreateDoctorInput{Name: "Dr. Silva", Email: "silva@example.com", Password: "supersecret", Specialization: "ENT"}
	if _, err := svc.CreateDoctor(context.Background(), in); err != nil {
		t.Fatalf("first CreateDoctor failed: %v", err)
	}
	if _, err := svc.CreateDoctor(context.Background(), in); err != ErrDuplicateEmail {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestDeleteDoctor_CascadesChildrenFirst(t *testing.T) {
	svc, patients, doctors, schedules, bookings, sender := newTestService()

	d, err := svc.CreateDoctor(context.Background(), CreateDoctorInput{
		Name: "Dr. Silva", Email: "silva@example.com", Password: "supersecret", Specialization: "ENT",
	})
	if err != nil {
		t.Fatalf("CreateDoctor failed: %v", err)
	}

	s1, s2 := uuid.New(), uuid.New()
	schedules.byDoctor[d.ID] = []uuid.UUID{s1, s2}

	patients.Create(context.Background(), &Patient{Name: "Jane", Email: "jane@example.com", Role: RolePatient})

	if err := svc.DeleteDoctor(context.Background(), d.ID); err != nil {
		t.Fatalf("DeleteDoctor failed: %v", err)
	}

	if len(bookings.deletedSchedules) != 2 {
		t.Fatalf("expected bookings removed for 2 schedules, got %d", len(bookings.deletedSchedules))
	}
	if len(schedules.deleted) != 1 || schedules.deleted[0] != d.ID {
		t.Fatalf("expected schedules removed for doctor, got %v", schedules.deleted)
	}
	if _, err := doctors.GetByID(context.Background(), d.ID); err != ErrDoctorNotFound {
		t.Fatal("expected doctor row removed")
	}

	calls := sender.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 removal notice, got %d", len(calls))
	}
	if calls[0].To != "jane@example.com" {
		t.Fatalf("notice sent to wrong recipient %q", calls[0].To)
	}
	if !strings.Contains(calls[0].Body, "Dr. Silva") {
		t.Fatalf("notice body missing doctor name: %s", calls[0].Body)
	}
}

func TestDeleteDoctor_EmailFailureDoesNotFailDeletion(t *testing.T) {
	svc, patients, doctors, _, _, sender := newTestService()

	d, err := svc.CreateDoctor(context.Background(), CreateDoctorInput{
		Name: "Dr. Silva", Email: "silva@example.com", Password: "supersecret", Specialization: "ENT",
	})
	if err != nil {
		t.Fatalf("CreateDoctor failed: %v", err)
	}
	patients.Create(context.Background(), &Patient{Name: "Jane", Email: "jane@example.com", Role: RolePatient})

	sender.ShouldFail = true
	sender.FailError = "smtp down"

	if err := svc.DeleteDoctor(context.Background(), d.ID); err != nil {
		t.Fatalf("DeleteDoctor must not fail on email errors, got %v", err)
	}
	if _, err := doctors.GetByID(context.Background(), d.ID); err != ErrDoctorNotFound {
		t.Fatal("expected doctor row removed despite email failure")
	}
}

func TestDeleteDoctor_NotFound(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	if err := svc.DeleteDoctor(context.Background(), uuid.New()); err != ErrDoctorNotFound {
		t.Fatalf("expected ErrDoctorNotFound, got %v", err)
	}
}
