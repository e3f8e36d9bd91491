package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/dentalclinic/libs/auth"
	"github.com/md-rashed-zaman/dentalclinic/libs/httpx"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/booking"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/scheduling"
)

// Appointments is the application service behind the HTTP surface.
type Appointments interface {
	Book(ctx context.Context, actor booking.Actor, req booking.BookingRequest) (model.Appointment, error)
	SetStatus(ctx context.Context, actor booking.Actor, id string, status model.Status) (model.Appointment, error)
	Delete(ctx context.Context, actor booking.Actor, id string) error
	List(ctx context.Context, actor booking.Actor, q booking.ListQuery) ([]model.Appointment, error)
	Next(ctx context.Context, actor booking.Actor) (model.Appointment, bool, error)
	Summary(ctx context.Context, actor booking.Actor) (model.Summary, error)
	Day(ctx context.Context, actor booking.Actor, date, procedure string) (booking.DayView, error)
	RegisterPatient(ctx context.Context, actor booking.Actor, in booking.PatientInput) (model.Patient, error)
}

type AppointmentHandler struct {
	svc    Appointments
	logger *slog.Logger
}

func NewAppointmentHandler(svc Appointments, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

// Register mounts the API on mux. Every route requires authentication; booking is
// additionally rate limited.
func (h *AppointmentHandler) Register(mux *http.ServeMux, requireAuth, limitBooking httpx.Middleware) {
	authed := func(fn http.HandlerFunc, extra ...httpx.Middleware) http.Handler {
		return httpx.Chain(fn, append([]httpx.Middleware{requireAuth}, extra...)...)
	}
	staffOnly := func(next http.Handler) http.Handler {
		return auth.RequireRole(next, auth.RoleAuxiliary, auth.RoleDentist)
	}

	mux.Handle("GET /api/v1/procedures", authed(h.Procedures))
	mux.Handle("POST /api/v1/patients", authed(h.RegisterPatient))
	mux.Handle("POST /api/v1/appointments", authed(h.Book, limitBooking))
	mux.Handle("GET /api/v1/appointments", authed(h.List))
	mux.Handle("GET /api/v1/appointments/next", authed(h.Next))
	mux.Handle("POST /api/v1/appointments/{id}/status", authed(h.SetStatus))
	mux.Handle("DELETE /api/v1/appointments/{id}", authed(h.Delete))
	mux.Handle("GET /api/v1/schedule", authed(h.Day))
	mux.Handle("GET /api/v1/summary", authed(h.Summary, staffOnly))
}

type procedureItem struct {
	Code            string `json:"code"`
	Label           string `json:"label"`
	DurationMinutes int    `json:"duration_minutes"`
}

type appointmentItem struct {
	ID             string `json:"id,omitempty"`
	PatientID      string `json:"patient_id,omitempty"`
	PatientName    string `json:"patient_name,omitempty"`
	Date           string `json:"date"`
	Start          string `json:"start"`
	End            string `json:"end"`
	Procedure      string `json:"procedure"`
	ProcedureLabel string `json:"procedure_label"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

type bookRequest struct {
	Date      string `json:"date"`
	Start     string `json:"start"`
	Procedure string `json:"procedure"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type patientRequest struct {
	Name  string `json:"name"`
	Age   int    `json:"age"`
	Email string `json:"email"`
}

type patientResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Age       int    `json:"age"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at"`
}

type summaryResponse struct {
	TotalPatients int `json:"total_patients"`
	Pending       int `json:"pending"`
	Confirmed     int `json:"confirmed"`
	Today         int `json:"today"`
	Upcoming      int `json:"upcoming"`
}

type dayResponse struct {
	Date         string            `json:"date"`
	Appointments []appointmentItem `json:"appointments"`
	Procedure    string            `json:"procedure,omitempty"`
	FreeSlots    []string          `json:"free_slots,omitempty"`
}

func (h *AppointmentHandler) Procedures(w http.ResponseWriter, _ *http.Request) {
	codes := scheduling.Procedures()
	items := make([]procedureItem, 0, len(codes))
	for _, code := range codes {
		items = append(items, procedureItem{
			Code:            string(code),
			Label:           code.Label(),
			DurationMinutes: int(scheduling.DurationOf(code) / time.Minute),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"procedures": items})
}

func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	appt, err := h.svc.Book(r.Context(), actor(r), booking.BookingRequest{
		Date:      req.Date,
		Start:     req.Start,
		Procedure: req.Procedure,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/appointments/"+appt.ID)
	httpx.WriteJSON(w, http.StatusCreated, toItem(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			httpx.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	appts, err := h.svc.List(r.Context(), actor(r), booking.ListQuery{
		Date:      strings.TrimSpace(q.Get("date")),
		PatientID: strings.TrimSpace(q.Get("patient_id")),
		Status:    strings.TrimSpace(q.Get("status")),
		Limit:     limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *AppointmentHandler) Next(w http.ResponseWriter, r *http.Request) {
	appt, ok, err := h.svc.Next(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment": nil})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment": toItem(appt)})
}

func (h *AppointmentHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := model.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	appt, err := h.svc.SetStatus(r.Context(), actor(r), r.PathValue("id"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toItem(appt))
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), actor(r), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppointmentHandler) Day(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := h.svc.Day(r.Context(), actor(r), q.Get("date"), q.Get("procedure"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := dayResponse{
		Date:         scheduling.FormatDate(view.Date),
		Appointments: make([]appointmentItem, 0, len(view.Entries)),
		Procedure:    string(view.Procedure),
	}
	for _, e := range view.Entries {
		resp.Appointments = append(resp.Appointments, toItem(e.Appointment))
	}
	if view.Procedure != "" {
		resp.FreeSlots = make([]string, 0, len(view.FreeSlots))
		for _, s := range view.FreeSlots {
			resp.FreeSlots = append(resp.FreeSlots, s.String())
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AppointmentHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summaryResponse(sum))
}

func (h *AppointmentHandler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.svc.RegisterPatient(r.Context(), actor(r), booking.PatientInput{
		Name:  req.Name,
		Age:   req.Age,
		Email: req.Email,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, patientResponse{
		ID:        p.ID,
		Name:      p.Name,
		Age:       p.Age,
		Email:     p.Email,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func actor(r *http.Request) booking.Actor {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func toItem(a model.Appointment) appointmentItem {
	start := scheduling.TimeOfDay(a.StartMinute)
	code := scheduling.Procedure(a.Procedure)
	item := appointmentItem{
		ID:             a.ID,
		PatientID:      a.PatientID,
		PatientName:    a.PatientName,
		Date:           scheduling.FormatDate(a.Date),
		Start:          start.String(),
		End:            scheduling.EndTime(a.Date, start, code).String(),
		Procedure:      a.Procedure,
		ProcedureLabel: code.Label(),
		Status:         string(a.Status),
	}
	if !a.CreatedAt.IsZero() {
		item.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !a.UpdatedAt.IsZero() {
		item.UpdatedAt = a.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return item
}

type conflictBody struct {
	Error string `json:"error"`
	Start string `json:"conflict_start"`
	End   string `json:"conflict_end"`
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *scheduling.ConflictError
	switch {
	case errors.As(err, &conflict):
		httpx.WriteJSON(w, http.StatusConflict, conflictBody{
			Error: conflict.Error(),
			Start: conflict.Start.String(),
			End:   conflict.End.String(),
		})
	case errors.Is(err, scheduling.ErrConflict), errors.Is(err, booking.ErrPatientExists):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduling.ErrMissingProcedure),
		errors.Is(err, scheduling.ErrInvalidDateTime),
		errors.Is(err, booking.ErrInvalidStatus),
		errors.Is(err, booking.ErrInvalidPatient):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduling.ErrOutsideWorkingHours):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, booking.ErrForbidden), errors.Is(err, booking.ErrNoPatientProfile):
		httpx.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
