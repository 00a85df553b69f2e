package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

// Prescription is an uploaded prescription image a patient wants filled.
type Prescription struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patientId"`
	Title     string    `db:"title" json:"title"`
	Image     []byte    `db:"image" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderRejected  OrderStatus = "REJECTED"
)

// Order is a pharmacy fulfilment request for a prescription. Orders start
// PENDING and move exactly once to DELIVERED or REJECTED.
type Order struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	PrescriptionID uuid.UUID   `db:"prescription_id" json:"prescriptionId"`
	PatientID      uuid.UUID   `db:"patient_id" json:"patientId"`
	Status         OrderStatus `db:"status" json:"status"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updatedAt"`
}

// OrderView joins an order with its prescription title and patient name for
// the pharmacy worklist.
type OrderView struct {
	Order
	PrescriptionTitle string `db:"prescription_title" json:"prescriptionTitle"`
	PatientName       string `db:"patient_name" json:"patientName"`
}
