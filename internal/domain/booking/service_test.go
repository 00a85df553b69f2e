package booking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echannel/echannel/internal/platform/notification"
	"github.com/echannel/echannel/internal/platform/realtime"
)

type mockApptRepo struct {
	appts map[uuid.UUID]*Appointment
}

func (m *mockApptRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockApptRepo) ExistsForPatientSchedule(_ context.Context, patientID, scheduleID uuid.UUID) (bool, error) {
	for _, a := range m.appts {
		if a.PatientID == patientID && a.ScheduleID == scheduleID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockApptRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var all []*Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			cp := *a
			all = append(all, &cp)
		}
	}
	return all, len(all), nil
}

func (m *mockApptRepo) DeleteBySchedule(_ context.Context, scheduleID uuid.UUID) error {
	for id, a := range m.appts {
		if a.ScheduleID == scheduleID {
			delete(m.appts, id)
		}
	}
	return nil
}

type mockQueueRepo struct {
	entries map[uuid.UUID]*QueueEntry
	deleted bool
}

func (m *mockQueueRepo) Create(_ context.Context, e *QueueEntry) error {
	for _, other := range m.entries {
		if other.ScheduleID == e.ScheduleID && other.QueueNumber == e.QueueNumber {
			return errors.New("duplicate queue number")
		}
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockQueueRepo) CountBySchedule(_ context.Context, scheduleID uuid.UUID) (int, error) {
	n := 0
	for _, e := range m.entries {
		if e.ScheduleID == scheduleID {
			n++
		}
	}
	return n, nil
}

func (m *mockQueueRepo) SmallestQueued(_ context.Context, scheduleID uuid.UUID) (*QueueEntry, error) {
	var best *QueueEntry
	for _, e := range m.entries {
		if e.ScheduleID != scheduleID || e.Status != QueueQueued {
			continue
		}
		if best == nil || e.QueueNumber < best.QueueNumber {
			best = e
		}
	}
	if best == nil {
		return nil, ErrQueueEmpty
	}
	cp := *best
	return &cp, nil
}

func (m *mockQueueRepo) MarkDone(_ context.Context, id uuid.UUID) error {
	e, ok := m.entries[id]
	if !ok {
		return ErrQueueEntryNotFound
	}
	e.Status = QueueDone
	e.UpdatedAt = time.Now()
	return nil
}

func (m *mockQueueRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*QueueEntryView, error) {
	for _, e := range m.entries {
		if e.AppointmentID == appointmentID {
			return &QueueEntryView{
				ID:            e.ID,
				AppointmentID: e.AppointmentID,
				ScheduleID:    e.ScheduleID,
				QueueNumber:   e.QueueNumber,
				Status:        e.Status,
			}, nil
		}
	}
	return nil, ErrQueueEntryNotFound
}

func (m *mockQueueRepo) ListBySchedule(_ context.Context, scheduleID uuid.UUID, status QueueStatus) ([]*QueueEntryView, error) {
	var items []*QueueEntryView
	for _, e := range m.entries {
		if e.ScheduleID != scheduleID {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		items = append(items, &QueueEntryView{
			ID:            e.ID,
			AppointmentID: e.AppointmentID,
			ScheduleID:    e.ScheduleID,
			QueueNumber:   e.QueueNumber,
			Status:        e.Status,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].QueueNumber < items[j].QueueNumber })
	return items, nil
}

func (m *mockQueueRepo) DeleteBySchedule(_ context.Context, scheduleID uuid.UUID) error {
	m.deleted = true
	for id, e := range m.entries {
		if e.ScheduleID == scheduleID {
			delete(m.entries, id)
		}
	}
	return nil
}

type mockScheduleStore struct {
	schedules map[uuid.UUID]*Schedule
}

func (m *mockScheduleStore) Get(_ context.Context, id uuid.UUID) (*Schedule, error) {
	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockScheduleStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return m.Get(ctx, id)
}

func (m *mockScheduleStore) SetUnavailable(_ context.Context, id uuid.UUID) error {
	s, ok := m.schedules[id]
	if !ok {
		return ErrScheduleNotFound
	}
	s.Available = false
	return nil
}

type mockPatientDir struct{ people map[uuid.UUID]*Person }

func (m *mockPatientDir) GetPatient(_ context.Context, id uuid.UUID) (*Person, error) {
	p, ok := m.people[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

type mockDoctorDir struct{ people map[uuid.UUID]*Person }

func (m *mockDoctorDir) GetDoctor(_ context.Context, id uuid.UUID) (*Person, error) {
	p, ok := m.people[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return p, nil
}

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	updates []realtime.QueueUpdate
	fail    error
}

func (p *capturePublisher) Publish(_ context.Context, topic string, payload interface{}) error {
	if p.fail != nil {
		return p.fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.updates = append(p.updates, payload.(realtime.QueueUpdate))
	return nil
}

type fakeTxManager struct{}

func (fakeTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type bookingEnv struct {
	svc       *Service
	appts     *mockApptRepo
	queue     *mockQueueRepo
	store     *mockScheduleStore
	publisher *capturePublisher
	sender    *notification.MockEmailSender

	patientID uuid.UUID
	doctorID  uuid.UUID
}

func newBookingEnv(t *testing.T) *bookingEnv {
	t.Helper()
	env := &bookingEnv{
		appts:     &mockApptRepo{appts: make(map[uuid.UUID]*Appointment)},
		queue:     &mockQueueRepo{entries: make(map[uuid.UUID]*QueueEntry)},
		store:     &mockScheduleStore{schedules: make(map[uuid.UUID]*Schedule)},
		publisher: &capturePublisher{},
		sender:    &notification.MockEmailSender{},
		patientID: uuid.New(),
		doctorID:  uuid.New(),
	}
	patients := &mockPatientDir{people: map[uuid.UUID]*Person{
		env.patientID: {ID: env.patientID, Name: "Jane Perera", Email: "jane@example.com"},
	}}
	doctors := &mockDoctorDir{people: map[uuid.UUID]*Person{
		env.doctorID: {ID: env.doctorID, Name: "Silva"},
	}}
	mailer := notification.NewManager(env.sender, notification.NewTemplateEngine())
	env.svc = NewService(env.appts, env.queue, env.store, patients, doctors,
		fakeTxManager{}, mailer, env.publisher, zerolog.Nop())
	env.svc.now = func() time.Time { return time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC) }
	return env
}

func (env *bookingEnv) addPatient(name, email string) uuid.UUID {
	id := uuid.New()
	env.svc.patients.(*mockPatientDir).people[id] = &Person{ID: id, Name: name, Email: email}
	return id
}

// addSchedule registers a schedule for tomorrow relative to the fixed clock.
func (env *bookingEnv) addSchedule(start, end string, capacity int) uuid.UUID {
	id := uuid.New()
	env.store.schedules[id] = &Schedule{
		ID:        id,
		DoctorID:  env.doctorID,
		Date:      time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		StartTime: start,
		EndTime:   end,
		Capacity:  capacity,
		Available: true,
	}
	return id
}

func TestCreateAppointment(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 4)

	conf, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID)
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	if conf.Appointment.Status != AppointmentBooked {
		t.Errorf("status = %s, want BOOKED", conf.Appointment.Status)
	}
	if conf.QueueEntry.QueueNumber != 1 {
		t.Errorf("queue number = %d, want 1", conf.QueueEntry.QueueNumber)
	}
	if conf.QueueEntry.Status != QueueQueued {
		t.Errorf("queue status = %s, want QUEUED", conf.QueueEntry.Status)
	}
	if conf.SlotTime != "09:00" {
		t.Errorf("slot time = %s, want 09:00", conf.SlotTime)
	}

	calls := env.sender.Calls()
	if len(calls) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(calls))
	}
	if calls[0].To != "jane@example.com" {
		t.Errorf("email recipient = %s", calls[0].To)
	}
	for _, want := range []string{"Jane Perera", "Silva", "2026-09-15", "09:00"} {
		if !strings.Contains(calls[0].Body, want) {
			t.Errorf("confirmation body missing %q: %s", want, calls[0].Body)
		}
	}
}

func TestCreateAppointmentThirdSlotTime(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 4)

	for i := 0; i < 2; i++ {
		pid := env.addPatient("Early Bird", "early@example.com")
		if _, err := env.svc.CreateAppointment(context.Background(), pid, env.doctorID, schedID); err != nil {
			t.Fatalf("booking %d: %v", i+1, err)
		}
	}
	conf, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID)
	if err != nil {
		t.Fatalf("third booking: %v", err)
	}
	if conf.QueueEntry.QueueNumber != 3 {
		t.Errorf("queue number = %d, want 3", conf.QueueEntry.QueueNumber)
	}
	if conf.SlotTime != "09:30" {
		t.Errorf("slot time = %s, want 09:30", conf.SlotTime)
	}
}

func TestCreateAppointmentDenseQueueNumbers(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "12:00", 10)

	for i := 1; i <= 5; i++ {
		pid := env.addPatient("Patient", "p@example.com")
		conf, err := env.svc.CreateAppointment(context.Background(), pid, env.doctorID, schedID)
		if err != nil {
			t.Fatalf("booking %d: %v", i, err)
		}
		if conf.QueueEntry.QueueNumber != i {
			t.Errorf("booking %d got queue number %d", i, conf.QueueEntry.QueueNumber)
		}
	}
}

func TestCreateAppointmentCapacityTwoWalkthrough(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 2)

	first, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID)
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if first.QueueEntry.QueueNumber != 1 {
		t.Errorf("first queue number = %d", first.QueueEntry.QueueNumber)
	}
	if !env.store.schedules[schedID].Available {
		t.Error("schedule latched after first booking, want still available")
	}

	second := env.addPatient("Second", "second@example.com")
	conf, err := env.svc.CreateAppointment(context.Background(), second, env.doctorID, schedID)
	if err != nil {
		t.Fatalf("second booking: %v", err)
	}
	if conf.QueueEntry.QueueNumber != 2 {
		t.Errorf("second queue number = %d", conf.QueueEntry.QueueNumber)
	}
	if env.store.schedules[schedID].Available {
		t.Error("schedule should latch unavailable when it fills")
	}

	third := env.addPatient("Third", "third@example.com")
	if _, err := env.svc.CreateAppointment(context.Background(), third, env.doctorID, schedID); !errors.Is(err, ErrScheduleUnavailable) {
		t.Errorf("third booking err = %v, want ErrScheduleUnavailable", err)
	}
}

func TestCreateAppointmentCapacityReachedPersistsLatch(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 2)

	// The schedule is full but the latch was never set, as after a crash
	// between the occupancy insert and the latch update.
	for i := 1; i <= 2; i++ {
		env.queue.entries[uuid.New()] = &QueueEntry{
			ID: uuid.New(), AppointmentID: uuid.New(), ScheduleID: schedID,
			QueueNumber: i, Status: QueueQueued,
		}
	}

	_, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID)
	if !errors.Is(err, ErrCapacityReached) {
		t.Fatalf("err = %v, want ErrCapacityReached", err)
	}
	if env.store.schedules[schedID].Available {
		t.Error("latch should persist even though the booking was refused")
	}
	if len(env.appts.appts) != 0 {
		t.Error("refused booking must not create an appointment")
	}
}

func TestCreateAppointmentDuplicate(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 4)

	if _, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID); !errors.Is(err, ErrDuplicateBooking) {
		t.Fatalf("err = %v, want ErrDuplicateBooking", err)
	}
	if len(env.appts.appts) != 1 {
		t.Errorf("appointments = %d, want 1", len(env.appts.appts))
	}
	if n, _ := env.queue.CountBySchedule(context.Background(), schedID); n != 1 {
		t.Errorf("queue entries = %d, want 1", n)
	}
}

func TestCreateAppointmentExpired(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 4)
	env.svc.now = func() time.Time { return time.Date(2026, 9, 15, 9, 30, 0, 0, time.UTC) }

	_, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID)
	if !errors.Is(err, ErrScheduleExpired) {
		t.Fatalf("err = %v, want ErrScheduleExpired", err)
	}
	if len(env.appts.appts) != 0 || len(env.queue.entries) != 0 {
		t.Error("expired booking must not write anything")
	}
	if len(env.sender.Calls()) != 0 {
		t.Error("expired booking must not send email")
	}
}

func TestCreateAppointmentPreconditionOrder(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 4)

	if _, err := env.svc.CreateAppointment(context.Background(), uuid.New(), env.doctorID, schedID); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("unknown patient err = %v, want ErrPatientNotFound", err)
	}
	if _, err := env.svc.CreateAppointment(context.Background(), env.patientID, uuid.New(), schedID); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("unknown doctor err = %v, want ErrDoctorNotFound", err)
	}
	if _, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, uuid.New()); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("unknown schedule err = %v, want ErrScheduleNotFound", err)
	}
}

func TestCreateAppointmentScheduleOfOtherDoctor(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 4)
	env.store.schedules[schedID].DoctorID = uuid.New()

	if _, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("err = %v, want ErrScheduleNotFound", err)
	}
}

func TestCreateAppointmentEmailFailureDoesNotFailBooking(t *testing.T) {
	env := newBookingEnv(t)
	env.sender.ShouldFail = true
	env.sender.FailError = "smtp down"
	schedID := env.addSchedule("09:00", "10:00", 4)

	conf, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID)
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	if conf.QueueEntry.QueueNumber != 1 {
		t.Errorf("queue number = %d, want 1", conf.QueueEntry.QueueNumber)
	}
}

func (env *bookingEnv) seedQueue(schedID uuid.UUID, numbers ...int) {
	for _, n := range numbers {
		id := uuid.New()
		env.queue.entries[id] = &QueueEntry{
			ID: id, AppointmentID: uuid.New(), ScheduleID: schedID,
			QueueNumber: n, Status: QueueQueued,
		}
	}
}

func TestCompleteCurrentAdvancement(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 10)
	env.seedQueue(schedID, 2, 3, 5)

	wantTopic := realtime.QueueTopic(env.doctorID)
	steps := []struct {
		completed int
		next      int
		message   string
	}{
		{2, 3, "Next patient please"},
		{3, 5, "Next patient please"},
		{5, -1, "Queue is empty"},
	}
	for i, step := range steps {
		entry, err := env.svc.CompleteCurrent(context.Background(), schedID, env.doctorID)
		if err != nil {
			t.Fatalf("step %d: %v", i+1, err)
		}
		if entry.QueueNumber != step.completed {
			t.Errorf("step %d completed %d, want %d", i+1, entry.QueueNumber, step.completed)
		}
		if entry.Status != QueueDone {
			t.Errorf("step %d completed entry status = %s, want DONE", i+1, entry.Status)
		}
		update := env.publisher.updates[i]
		if update.CurrentQueueNumber != step.next {
			t.Errorf("step %d published number %d, want %d", i+1, update.CurrentQueueNumber, step.next)
		}
		if update.Message != step.message {
			t.Errorf("step %d message = %q, want %q", i+1, update.Message, step.message)
		}
		if update.DoctorID != env.doctorID {
			t.Errorf("step %d doctor id = %s", i+1, update.DoctorID)
		}
		if env.publisher.topics[i] != wantTopic {
			t.Errorf("step %d topic = %s, want %s", i+1, env.publisher.topics[i], wantTopic)
		}
	}

	if _, err := env.svc.CompleteCurrent(context.Background(), schedID, env.doctorID); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("drained queue err = %v, want ErrQueueEmpty", err)
	}
	if len(env.publisher.updates) != 3 {
		t.Errorf("empty-queue completion should not publish, got %d updates", len(env.publisher.updates))
	}
}

func TestCompleteCurrentOwnership(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 10)
	env.seedQueue(schedID, 1)

	if _, err := env.svc.CompleteCurrent(context.Background(), schedID, uuid.New()); !errors.Is(err, ErrNotScheduleOwner) {
		t.Fatalf("err = %v, want ErrNotScheduleOwner", err)
	}

	// Staff callers pass uuid.Nil and bypass the ownership check.
	entry, err := env.svc.CompleteCurrent(context.Background(), schedID, uuid.Nil)
	if err != nil {
		t.Fatalf("staff completion: %v", err)
	}
	if entry.QueueNumber != 1 {
		t.Errorf("completed %d, want 1", entry.QueueNumber)
	}
}

func TestCompleteCurrentPublishFailureDoesNotFail(t *testing.T) {
	env := newBookingEnv(t)
	env.publisher.fail = errors.New("redis down")
	schedID := env.addSchedule("09:00", "10:00", 10)
	env.seedQueue(schedID, 1)

	entry, err := env.svc.CompleteCurrent(context.Background(), schedID, env.doctorID)
	if err != nil {
		t.Fatalf("CompleteCurrent: %v", err)
	}
	if entry.Status != QueueDone {
		t.Error("entry should be done despite publish failure")
	}
}

func TestListQueue(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 10)
	env.seedQueue(schedID, 3, 1, 2)
	if _, err := env.svc.CompleteCurrent(context.Background(), schedID, env.doctorID); err != nil {
		t.Fatalf("CompleteCurrent: %v", err)
	}

	all, err := env.svc.ListQueue(context.Background(), schedID, "")
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered = %d entries, want 3", len(all))
	}
	for i, v := range all {
		if v.QueueNumber != i+1 {
			t.Errorf("position %d has number %d, want queue number order", i, v.QueueNumber)
		}
	}

	queued, err := env.svc.ListQueue(context.Background(), schedID, "QUEUED")
	if err != nil {
		t.Fatalf("ListQueue QUEUED: %v", err)
	}
	if len(queued) != 2 {
		t.Errorf("queued = %d, want 2", len(queued))
	}

	done, err := env.svc.ListQueue(context.Background(), schedID, "DONE")
	if err != nil {
		t.Fatalf("ListQueue DONE: %v", err)
	}
	if len(done) != 1 || done[0].QueueNumber != 1 {
		t.Errorf("done = %v", done)
	}

	if _, err := env.svc.ListQueue(context.Background(), schedID, "CANCELLED"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("err = %v, want ErrInvalidStatus", err)
	}
	if _, err := env.svc.ListQueue(context.Background(), uuid.New(), ""); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("err = %v, want ErrScheduleNotFound", err)
	}
}

func TestGetQueueForAppointment(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 4)

	conf, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID)
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	view, err := env.svc.GetQueueForAppointment(context.Background(), conf.Appointment.ID)
	if err != nil {
		t.Fatalf("GetQueueForAppointment: %v", err)
	}
	if view.QueueNumber != 1 || view.AppointmentID != conf.Appointment.ID {
		t.Errorf("view = %+v", view)
	}

	if _, err := env.svc.GetQueueForAppointment(context.Background(), uuid.New()); !errors.Is(err, ErrQueueEntryNotFound) {
		t.Errorf("err = %v, want ErrQueueEntryNotFound", err)
	}
}

func TestDeleteByScheduleRemovesQueueThenAppointments(t *testing.T) {
	env := newBookingEnv(t)
	schedID := env.addSchedule("09:00", "10:00", 4)
	if _, err := env.svc.CreateAppointment(context.Background(), env.patientID, env.doctorID, schedID); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}

	if err := env.svc.DeleteBySchedule(context.Background(), schedID); err != nil {
		t.Fatalf("DeleteBySchedule: %v", err)
	}
	if len(env.queue.entries) != 0 {
		t.Error("queue entries remain")
	}
	if len(env.appts.appts) != 0 {
		t.Error("appointments remain")
	}
}
