package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echannel/echannel/internal/platform/db"
	"github.com/echannel/echannel/internal/platform/notification"
)

var (
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidState         = errors.New("order is not pending")
	ErrPatientNotFound      = errors.New("patient not found")
)

// Patient is the slice of a patient record the pharmacy needs for
// order notices and delivery.
type Patient struct {
	ID      uuid.UUID
	Name    string
	Email   string
	Address string
}

// PatientDirectory resolves patients placing orders. The adapter over the
// identity service translates its not-found sentinel into ErrPatientNotFound.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
}

// Mailer sends templated emails. Satisfied by notification.Manager.
type Mailer interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Email, error)
}

// Service handles prescription upload and pharmacy order fulfilment.
type Service struct {
	prescriptions PrescriptionRepository
	orders        OrderRepository
	patients      PatientDirectory
	tx            db.TxManager
	mailer        Mailer
	log           zerolog.Logger
}

func NewService(prescriptions PrescriptionRepository, orders OrderRepository, patients PatientDirectory, tx db.TxManager, mailer Mailer, log zerolog.Logger) *Service {
	return &Service{
		prescriptions: prescriptions,
		orders:        orders,
		patients:      patients,
		tx:            tx,
		mailer:        mailer,
		log:           log.With().Str("component", "pharmacy").Logger(),
	}
}

// CreateOrder stores the uploaded prescription and opens a pending order in
// one transaction.
func (s *Service) CreateOrder(ctx context.Context, patientID uuid.UUID, title string, image []byte) (*Order, error) {
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("prescription image is required")
	}
	if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	var order *Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p := &Prescription{PatientID: patientID, Title: title, Image: image}
		if err := s.prescriptions.Create(ctx, p); err != nil {
			return fmt.Errorf("create prescription: %w", err)
		}
		order = &Order{PrescriptionID: p.ID, PatientID: patientID, Status: OrderPending}
		if err := s.orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*OrderView, int, error) {
	return s.orders.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByStatus(ctx context.Context, status OrderStatus, limit, offset int) ([]*OrderView, int, error) {
	switch status {
	case OrderPending, OrderDelivered, OrderRejected:
	default:
		return nil, 0, fmt.Errorf("unknown order status %q", status)
	}
	return s.orders.ListByStatus(ctx, status, limit, offset)
}

// Approve marks a pending order delivered and emails the patient.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.resolve(ctx, id, OrderDelivered, notification.TemplateOrderApproved, nil)
}

// Reject marks a pending order rejected and emails the patient.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Order, error) {
	if reason == "" {
		reason = "not specified"
	}
	return s.resolve(ctx, id, OrderRejected, notification.TemplateOrderRejected, map[string]string{"reason": reason})
}

func (s *Service) resolve(ctx context.Context, id uuid.UUID, status OrderStatus, templateID string, extra map[string]string) (*Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderPending {
		return nil, ErrInvalidState
	}
	if err := s.orders.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	order.Status = status

	patient, err := s.patients.GetPatient(ctx, order.PatientID)
	if err != nil {
		s.log.Warn().Err(err).Str("order_id", id.String()).Msg("order notice skipped, patient lookup failed")
		return order, nil
	}
	data := map[string]string{
		"patient_name": patient.Name,
		"order_id":     order.ID.String(),
		"address":      patient.Address,
	}
	for k, v := range extra {
		data[k] = v
	}
	if _, err := s.mailer.SendFromTemplate(ctx, templateID, data, patient.Email); err != nil {
		// Best effort: the status change is already persisted.
		s.log.Warn().Err(err).Str("recipient", patient.Email).Msg("order notice failed")
	}
	return order, nil
}

// GetPrescriptionImage returns the stored image for download.
func (s *Service) GetPrescriptionImage(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}
