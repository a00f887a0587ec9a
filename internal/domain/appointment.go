package domain

import "time"

const (
	AppointmentPending   = "Pending"
	AppointmentScheduled = "Scheduled"
	AppointmentCompleted = "Completed"
	AppointmentCancelled = "Cancelled"

	RequestSourceWebsite = "Website"
)

type Appointment struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	Email           string    `json:"email,omitempty"`
	Time            time.Time `json:"time"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	Doctor          string    `json:"doctor,omitempty"`
	Department      string    `json:"department,omitempty"`
	Priority        string    `json:"priority,omitempty"`
	AppointmentType string    `json:"appointment_type,omitempty"`
	RequestSource   string    `json:"request_source,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AppointmentRequest is the booking form. Date is either a calendar day
// (2006-01-02) or an RFC 3339 instant.
type AppointmentRequest struct {
	Name    string `json:"name" validate:"required,min=2,max=120"`
	Phone   string `json:"phone" validate:"required,phone"`
	Email   string `json:"email" validate:"omitempty,email"`
	Date    string `json:"date" validate:"required,notpast"`
	Service string `json:"service" validate:"omitempty,max=120"`
	Notes   string `json:"notes" validate:"omitempty,max=1000"`
}

type UpdateAppointmentStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=Pending Scheduled Completed Cancelled"`
}
