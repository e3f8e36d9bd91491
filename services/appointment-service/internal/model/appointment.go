package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the three appointment states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// Active appointments occupy their slot; cancelled ones do not.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Appointment is one booked slot. Date is midnight of the calendar day in the clinic
// location and StartMinute counts minutes from that midnight. The end of the slot is
// always derived from the procedure and never stored.
type Appointment struct {
	ID          string
	PatientID   string
	PatientName string
	Date        time.Time
	StartMinute int
	Procedure   string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Patient struct {
	ID        string
	UserID    string
	Name      string
	Age       int
	Email     string
	CreatedAt time.Time
}

// Summary backs the staff dashboards.
type Summary struct {
	TotalPatients int
	Pending       int
	Confirmed     int
	Today         int
	Upcoming      int
}
