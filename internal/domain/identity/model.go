package identity

import (
	"time"

	"github.com/google/uuid"
)

// Account roles. Staff members live in the patient table with RoleStaff;
// doctors have their own table and always authenticate as doctors.
const (
	RolePatient = "patient"
	RoleStaff   = "staff"
)

// Patient maps to the patient table. Staff accounts share this table,
// distinguished by the role column.
type Patient struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	Address      *string   `db:"address" json:"address,omitempty"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Doctor maps to the doctor table.
type Doctor struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Email           string    `db:"email" json:"email"`
	PasswordHash    string    `db:"password_hash" json:"-"`
	Phone           *string   `db:"phone" json:"phone,omitempty"`
	Specialization  string    `db:"specialization" json:"specialization"`
	Qualification   *string   `db:"qualification" json:"qualification,omitempty"`
	ConsultationFee *float64  `db:"consultation_fee" json:"consultationFee,omitempty"`
	Available       bool      `db:"available" json:"available"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}
