package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/model"
)

const (
	EventAppointmentBooked        = "clinic.appointment.booked.v1"
	EventAppointmentStatusChanged = "clinic.appointment.status_changed.v1"
	EventAppointmentDeleted       = "clinic.appointment.deleted.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// AppointmentEvent builds an event about appt. extra fields are merged into the payload.
func AppointmentEvent(eventType string, appt model.Appointment, actorID string, extra map[string]any) (Event, error) {
	payload := map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     appt.PatientID,
		"date":           appt.Date.Format("2006-01-02"),
		"start_minute":   appt.StartMinute,
		"procedure":      appt.Procedure,
		"status":         string(appt.Status),
		"actor_id":       actorID,
		"occurred_at":    time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
