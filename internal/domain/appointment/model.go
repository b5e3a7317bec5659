// Package appointment keeps one appointment log per tenant, mirrored across
// an ordered set of storage backends, and notifies subscribers on change.
package appointment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidStatus = errors.New("invalid appointment status")
	ErrNotFound      = errors.New("appointment not found")
	ErrValidation    = errors.New("invalid appointment")
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no-show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Creator roles.
const (
	CreatedByPatient      = "patient"
	CreatedByDoctor       = "doctor"
	CreatedByReceptionist = "receptionist"
)

type Appointment struct {
	ID                   string   `json:"id"`
	PatientID            string   `json:"patientId"`
	PatientName          string   `json:"patientName"`
	PatientEmail         string   `json:"patientEmail,omitempty"`
	PatientPhone         string   `json:"patientPhone,omitempty"`
	DoctorID             string   `json:"doctorId"`
	DoctorName           string   `json:"doctorName"`
	DoctorSpecialization string   `json:"doctorSpecialization,omitempty"`
	Date                 string   `json:"date"`
	Time                 string   `json:"time"`
	Type                 string   `json:"type"`
	Reason               string   `json:"reason"`
	Status               Status   `json:"status"`
	Priority             Priority `json:"priority"`
	Notes                string   `json:"notes,omitempty"`
	CreatedAt            string   `json:"createdAt"`
	CreatedBy            string   `json:"createdBy"`
	CreatedByID          string   `json:"createdById"`
	TenantID             string   `json:"tenantId"`
}

// CreateInput carries the caller-supplied fields of a new appointment.
type CreateInput struct {
	PatientID            string   `json:"patientId"`
	PatientName          string   `json:"patientName"`
	PatientEmail         string   `json:"patientEmail,omitempty"`
	PatientPhone         string   `json:"patientPhone,omitempty"`
	DoctorID             string   `json:"doctorId"`
	DoctorName           string   `json:"doctorName"`
	DoctorSpecialization string   `json:"doctorSpecialization,omitempty"`
	Date                 string   `json:"date"`
	Time                 string   `json:"time"`
	Type                 string   `json:"type"`
	Reason               string   `json:"reason"`
	Status               Status   `json:"status,omitempty"`
	Priority             Priority `json:"priority,omitempty"`
	Notes                string   `json:"notes,omitempty"`
	CreatedBy            string   `json:"createdBy"`
	CreatedByID          string   `json:"createdById"`
	TenantID             string   `json:"tenantId,omitempty"`
}

// Validate reports missing or malformed fields wrapped in ErrValidation.
func (in CreateInput) Validate() error {
	required := []struct{ name, value string }{
		{"patientId", in.PatientID},
		{"doctorId", in.DoctorID},
		{"date", in.Date},
		{"time", in.Time},
		{"createdBy", in.CreatedBy},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}

	switch in.CreatedBy {
	case CreatedByPatient, CreatedByDoctor, CreatedByReceptionist:
	default:
		return fmt.Errorf("%w: createdBy must be patient, doctor or receptionist", ErrValidation)
	}
	if in.Status != "" && !in.Status.Valid() {
		return fmt.Errorf("%w: %w %q", ErrValidation, ErrInvalidStatus, in.Status)
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, in.Priority)
	}
	return nil
}
