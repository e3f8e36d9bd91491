package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/dentalclinic/libs/auth"
	"github.com/md-rashed-zaman/dentalclinic/libs/httpx"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/booking"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/scheduling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

type mockAppointments struct {
	mock.Mock
}

func (m *mockAppointments) Book(ctx context.Context, a booking.Actor, req booking.BookingRequest) (model.Appointment, error) {
	args := m.Called(ctx, a, req)
	return args.Get(0).(model.Appointment), args.Error(1)
}

func (m *mockAppointments) SetStatus(ctx context.Context, a booking.Actor, id string, status model.Status) (model.Appointment, error) {
	args := m.Called(ctx, a, id, status)
	return args.Get(0).(model.Appointment), args.Error(1)
}

func (m *mockAppointments) Delete(ctx context.Context, a booking.Actor, id string) error {
	return m.Called(ctx, a, id).Error(0)
}

func (m *mockAppointments) List(ctx context.Context, a booking.Actor, q booking.ListQuery) ([]model.Appointment, error) {
	args := m.Called(ctx, a, q)
	return args.Get(0).([]model.Appointment), args.Error(1)
}

func (m *mockAppointments) Next(ctx context.Context, a booking.Actor) (model.Appointment, bool, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(model.Appointment), args.Bool(1), args.Error(2)
}

func (m *mockAppointments) Summary(ctx context.Context, a booking.Actor) (model.Summary, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(model.Summary), args.Error(1)
}

func (m *mockAppointments) Day(ctx context.Context, a booking.Actor, date, procedure string) (booking.DayView, error) {
	args := m.Called(ctx, a, date, procedure)
	return args.Get(0).(booking.DayView), args.Error(1)
}

func (m *mockAppointments) RegisterPatient(ctx context.Context, a booking.Actor, in booking.PatientInput) (model.Patient, error) {
	args := m.Called(ctx, a, in)
	return args.Get(0).(model.Patient), args.Error(1)
}

var (
	patient = booking.Actor{UserID: "u1", Role: auth.RolePatient, PatientID: "p1"}
	dentist = booking.Actor{UserID: "d1", Role: auth.RoleDentist}
)

func newServer(t *testing.T, svc Appointments, limit httpx.Middleware) http.Handler {
	t.Helper()
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	NewAppointmentHandler(svc, logger).Register(mux, auth.RequireAuth(auth.HS256(secret)), limit)
	return mux
}

func do(t *testing.T, h http.Handler, as booking.Actor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if as.UserID != "" {
		token, err := auth.SignHS256(auth.Claims{
			Sub:       as.UserID,
			Role:      as.Role,
			PatientID: as.PatientID,
			Exp:       time.Now().Add(time.Hour).Unix(),
		}, secret)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleAppointment() model.Appointment {
	return model.Appointment{
		ID:          "a1",
		PatientID:   "p1",
		Date:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		StartMinute: int(scheduling.Clock(10, 0)),
		Procedure:   "higiene",
		Status:      model.StatusPending,
	}
}

func TestRequiresAuthentication(t *testing.T) {
	h := newServer(t, &mockAppointments{}, nil)
	rec := do(t, h, booking.Actor{}, http.MethodGet, "/api/v1/appointments", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProcedures(t *testing.T) {
	h := newServer(t, &mockAppointments{}, nil)
	rec := do(t, h, patient, http.MethodGet, "/api/v1/procedures", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Procedures []procedureItem `json:"procedures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Procedures, 10)
	assert.Equal(t, "valoracion", body.Procedures[0].Code)
	assert.Equal(t, 10, body.Procedures[0].DurationMinutes)
}

func TestBook_Created(t *testing.T) {
	svc := &mockAppointments{}
	svc.On("Book", mock.Anything, patient, booking.BookingRequest{Date: "2025-03-10", Start: "10:00", Procedure: "higiene"}).
		Return(sampleAppointment(), nil).Once()
	h := newServer(t, svc, nil)

	rec := do(t, h, patient, http.MethodPost, "/api/v1/appointments", `{"date":"2025-03-10","start":"10:00","procedure":"higiene"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/api/v1/appointments/a1", rec.Header().Get("Location"))

	var item appointmentItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "10:00", item.Start)
	assert.Equal(t, "10:20", item.End)
	assert.Equal(t, "Higiene (20 min)", item.ProcedureLabel)
	assert.Equal(t, "pending", item.Status)
	svc.AssertExpectations(t)
}

func TestBook_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"missing procedure", scheduling.ErrMissingProcedure, http.StatusBadRequest},
		{"invalid date", scheduling.ErrInvalidDateTime, http.StatusBadRequest},
		{"outside hours", scheduling.ErrOutsideWorkingHours, http.StatusUnprocessableEntity},
		{"storage conflict", scheduling.ErrConflict, http.StatusConflict},
		{"forbidden", booking.ErrForbidden, http.StatusForbidden},
		{"no profile", booking.ErrNoPatientProfile, http.StatusForbidden},
		{"infrastructure", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockAppointments{}
			svc.On("Book", mock.Anything, mock.Anything, mock.Anything).Return(model.Appointment{}, tc.err).Once()
			rec := do(t, newServer(t, svc, nil), patient, http.MethodPost, "/api/v1/appointments", `{"date":"2025-03-10","start":"10:00","procedure":"higiene"}`)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestBook_ConflictBodyNamesWindow(t *testing.T) {
	svc := &mockAppointments{}
	svc.On("Book", mock.Anything, mock.Anything, mock.Anything).
		Return(model.Appointment{}, &scheduling.ConflictError{AppointmentID: "x", Start: scheduling.Clock(9, 0), End: scheduling.Clock(10, 0)}).Once()

	rec := do(t, newServer(t, svc, nil), patient, http.MethodPost, "/api/v1/appointments", `{"date":"2025-03-10","start":"09:30","procedure":"higiene"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"there is already an appointment from 09:00 to 10:00","conflict_start":"09:00","conflict_end":"10:00"}`, rec.Body.String())
}

func TestBook_RejectsUnknownFields(t *testing.T) {
	rec := do(t, newServer(t, &mockAppointments{}, nil), patient, http.MethodPost, "/api/v1/appointments", `{"date":"2025-03-10","hour":"10:00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBook_RateLimited(t *testing.T) {
	svc := &mockAppointments{}
	svc.On("Book", mock.Anything, mock.Anything, mock.Anything).Return(sampleAppointment(), nil).Once()
	limit := httpx.RateLimit(httpx.NewMemoryLimiter(1, time.Minute), func(r *http.Request) string {
		p, _ := auth.PrincipalFromContext(r.Context())
		return p.UserID
	}, nil, false)
	h := newServer(t, svc, limit)

	body := `{"date":"2025-03-10","start":"10:00","procedure":"higiene"}`
	assert.Equal(t, http.StatusCreated, do(t, h, patient, http.MethodPost, "/api/v1/appointments", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, patient, http.MethodPost, "/api/v1/appointments", body).Code)
	svc.AssertExpectations(t)
}

func TestList_PassesQuery(t *testing.T) {
	svc := &mockAppointments{}
	svc.On("List", mock.Anything, dentist, booking.ListQuery{Date: "2025-03-10", Status: "all", Limit: 5}).
		Return([]model.Appointment{sampleAppointment()}, nil).Once()
	h := newServer(t, svc, nil)

	rec := do(t, h, dentist, http.MethodGet, "/api/v1/appointments?date=2025-03-10&status=all&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"a1"`)

	rec = do(t, h, dentist, http.MethodGet, "/api/v1/appointments?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertExpectations(t)
}

func TestNext(t *testing.T) {
	svc := &mockAppointments{}
	svc.On("Next", mock.Anything, patient).Return(model.Appointment{}, false, nil).Once()
	rec := do(t, newServer(t, svc, nil), patient, http.MethodGet, "/api/v1/appointments/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"appointment":null}`, rec.Body.String())
}

func TestSetStatusAndDelete(t *testing.T) {
	svc := &mockAppointments{}
	confirmed := sampleAppointment()
	confirmed.Status = model.StatusConfirmed
	svc.On("SetStatus", mock.Anything, dentist, "a1", model.StatusConfirmed).Return(confirmed, nil).Once()
	svc.On("SetStatus", mock.Anything, dentist, "a1", model.Status("done")).Return(model.Appointment{}, booking.ErrInvalidStatus).Once()
	svc.On("Delete", mock.Anything, patient, "a1").Return(nil).Once()
	svc.On("Delete", mock.Anything, patient, "zz").Return(booking.ErrNotFound).Once()
	h := newServer(t, svc, nil)

	rec := do(t, h, dentist, http.MethodPost, "/api/v1/appointments/a1/status", `{"status":"Confirmed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"confirmed"`)

	rec = do(t, h, dentist, http.MethodPost, "/api/v1/appointments/a1/status", `{"status":"done"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNoContent, do(t, h, patient, http.MethodDelete, "/api/v1/appointments/a1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, patient, http.MethodDelete, "/api/v1/appointments/zz", "").Code)
	svc.AssertExpectations(t)
}

func TestSchedule(t *testing.T) {
	svc := &mockAppointments{}
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	svc.On("Day", mock.Anything, patient, "2025-03-10", "higiene").Return(booking.DayView{
		Date: day,
		Entries: []booking.DayEntry{{
			Appointment: model.Appointment{Date: day, StartMinute: 480, Procedure: "implantes", Status: model.StatusConfirmed},
			Start:       scheduling.Clock(8, 0),
			End:         scheduling.Clock(9, 0),
		}},
		Procedure: "higiene",
		FreeSlots: []scheduling.TimeOfDay{scheduling.Clock(9, 0), scheduling.Clock(9, 10)},
	}, nil).Once()

	rec := do(t, newServer(t, svc, nil), patient, http.MethodGet, "/api/v1/schedule?date=2025-03-10&procedure=higiene", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body dayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2025-03-10", body.Date)
	require.Len(t, body.Appointments, 1)
	assert.Empty(t, body.Appointments[0].PatientID)
	assert.Equal(t, "09:00", body.Appointments[0].End)
	assert.Equal(t, []string{"09:00", "09:10"}, body.FreeSlots)
}

func TestSummary_StaffOnly(t *testing.T) {
	svc := &mockAppointments{}
	svc.On("Summary", mock.Anything, dentist).Return(model.Summary{TotalPatients: 4, Pending: 2, Confirmed: 1, Today: 1, Upcoming: 3}, nil).Once()
	h := newServer(t, svc, nil)

	rec := do(t, h, dentist, http.MethodGet, "/api/v1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_patients":4,"pending":2,"confirmed":1,"today":1,"upcoming":3}`, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, do(t, h, patient, http.MethodGet, "/api/v1/summary", "").Code)
	svc.AssertExpectations(t)
}

func TestRegisterPatient(t *testing.T) {
	svc := &mockAppointments{}
	newUser := booking.Actor{UserID: "u9", Role: auth.RolePatient}
	svc.On("RegisterPatient", mock.Anything, newUser, booking.PatientInput{Name: "Ana", Age: 30, Email: "ana@example.com"}).
		Return(model.Patient{ID: "p9", UserID: "u9", Name: "Ana", Age: 30, Email: "ana@example.com", CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}, nil).Once()
	svc.On("RegisterPatient", mock.Anything, patient, mock.Anything).Return(model.Patient{}, booking.ErrPatientExists).Once()
	h := newServer(t, svc, nil)

	rec := do(t, h, newUser, http.MethodPost, "/api/v1/patients", `{"name":"Ana","age":30,"email":"ana@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"p9","name":"Ana","age":30,"email":"ana@example.com","created_at":"2025-03-01T12:00:00Z"}`, rec.Body.String())

	rec = do(t, h, patient, http.MethodPost, "/api/v1/patients", `{"name":"Ana","age":30}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	svc.AssertExpectations(t)
}
