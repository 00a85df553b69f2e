// Package notification provides email delivery with template rendering, an
// in-memory delivery record, and retry support. Delivery failures are
// reported to the caller but never block the operation that triggered them.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Built-in template IDs.
const (
	TemplateAppointmentConfirmation = "appointment-confirmation"
	TemplateOrderApproved           = "order-approved"
	TemplateOrderRejected           = "order-rejected"
	TemplateDoctorRemoved           = "doctor-removed"
)

// Template defines a reusable email template with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages email templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateAppointmentConfirmation,
			Name:    "Appointment Confirmation",
			Subject: "Appointment Confirmation",
			Body:    "Dear {{patient_name}}, your appointment with Dr. {{doctor_name}} on {{date}} is confirmed. Your queue number is {{queue_number}} and your estimated time is {{slot_time}}.",
		},
		{
			ID:      TemplateOrderApproved,
			Name:    "Pharmacy Order Approved",
			Subject: "Your Order Has Been Approved",
			Body:    "Dear {{patient_name}}, your pharmacy order {{order_id}} has been approved and will be delivered to {{address}}.",
		},
		{
			ID:      TemplateOrderRejected,
			Name:    "Pharmacy Order Rejected",
			Subject: "Your Order Has Been Rejected",
			Body:    "Dear {{patient_name}}, your pharmacy order {{order_id}} was rejected. Reason: {{reason}}. Please contact the pharmacy for assistance.",
		},
		{
			ID:      TemplateDoctorRemoved,
			Name:    "Doctor No Longer Available",
			Subject: "Doctor No Longer Available",
			Body:    "Dear {{patient_name}}, Dr. {{doctor_name}} is no longer available at our hospital. Any appointments you had with this doctor have been cancelled.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Email is a single outbound email and its delivery record.
type Email struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"templateId,omitempty"`
	TemplateData map[string]string `json:"templateData,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	SentAt       *time.Time        `json:"sentAt,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Manager orchestrates rendering, sending, and the in-memory delivery record.
type Manager struct {
	sender    EmailSender
	templates *TemplateEngine
	mu        sync.RWMutex
	emails    map[string]*Email
}

func NewManager(sender EmailSender, templates *TemplateEngine) *Manager {
	return &Manager{
		sender:    sender,
		templates: templates,
		emails:    make(map[string]*Email),
	}
}

// Send dispatches an email, assigns an ID and timestamps, and records the
// outcome. The delivery record is kept even when sending fails so the email
// can be retried.
func (m *Manager) Send(ctx context.Context, email *Email) error {
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	email.CreatedAt = time.Now().UTC()

	sendErr := m.sender.SendEmail(ctx, email.Recipient, email.Subject, email.Body)
	if sendErr != nil {
		email.Status = "failed"
		email.Error = sendErr.Error()
	} else {
		email.Status = "sent"
		sentAt := time.Now().UTC()
		email.SentAt = &sentAt
	}

	m.mu.Lock()
	m.emails[email.ID] = email
	m.mu.Unlock()

	return sendErr
}

// SendFromTemplate renders a template and sends the resulting email.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Email, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	email := &Email{
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}

	if err := m.Send(ctx, email); err != nil {
		return email, err
	}
	return email, nil
}

// Get retrieves a delivery record by ID.
func (m *Manager) Get(id string) (*Email, error) {
	m.mu.RLock()
	email, ok := m.emails[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("email %q not found", id)
	}
	return email, nil
}

// Retry re-sends a failed email. Returns an error if the email is not in
// "failed" status.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	email, ok := m.emails[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("email %q not found", id)
	}
	if email.Status != "failed" {
		return fmt.Errorf("email %q is not in failed status (current: %s)", id, email.Status)
	}

	sendErr := m.sender.SendEmail(ctx, email.Recipient, email.Subject, email.Body)

	m.mu.Lock()
	if sendErr != nil {
		email.Status = "failed"
		email.Error = sendErr.Error()
	} else {
		email.Status = "sent"
		sentAt := time.Now().UTC()
		email.SentAt = &sentAt
		email.Error = ""
	}
	m.mu.Unlock()

	return sendErr
}

// Stats returns delivery record counts grouped by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, email := range m.emails {
		stats[email.Status]++
	}
	return stats
}

// LogSender writes emails to the structured log instead of delivering them.
// Used in development and test environments where no mail relay exists.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.log.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("email (log sender)")
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
