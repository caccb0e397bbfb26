package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/middleware"
)

func (e *env) server() *echo.Echo {
	srv := echo.New()
	srv.HTTPErrorHandler = middleware.ErrorHandler(zerolog.Nop())
	api := srv.Group("/api/v1", auth.DevAuthMiddleware())
	NewHandler(e.coordinator, e.query, e.availability()).RegisterRoutes(api)
	return srv
}

type caller struct {
	user  string
	roles string
}

func (e *env) subjectCaller() caller      { return caller{e.subject.UserID, auth.RoleSubject} }
func (e *env) practitionerCaller() caller { return caller{e.practitioner.UserID, auth.RolePractitioner} }

func do(t *testing.T, srv *echo.Echo, who caller, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Dev-User", who.user)
	req.Header.Set("X-Dev-Roles", who.roles)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *env) bookBody(start string) string {
	return `{"practitioner_id":"` + e.practitioner.ID.String() +
		`","service_id":"` + e.service.ID.String() +
		`","subject_profile_id":"` + e.subject.ID.String() +
		`","start":"` + start + `"}`
}

func TestHandler_BookAndConflict(t *testing.T) {
	e := newEnv(t)
	srv := e.server()

	rec := do(t, srv, e.subjectCaller(), http.MethodPost, "/api/v1/appointments", e.bookBody("2025-03-04T10:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[Appointment](t, rec)
	assert.Equal(t, StatusUpcoming, appt.Status)

	rec = do(t, srv, e.subjectCaller(), http.MethodPost, "/api/v1/appointments", e.bookBody("2025-03-04T10:00:00Z"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[middleware.ErrorBody](t, rec)
	assert.Equal(t, "time_slot_already_booked", body.Code)

	rec = do(t, srv, e.subjectCaller(), http.MethodPost, "/api/v1/appointments", e.bookBody("2025-03-04T07:30:00Z"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "outside_working_hours", decode[middleware.ErrorBody](t, rec).Code)

	rec = do(t, srv, e.subjectCaller(), http.MethodGet, "/api/v1/appointments/"+appt.ID.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_BookBadRequests(t *testing.T) {
	e := newEnv(t)
	srv := e.server()

	rec := do(t, srv, e.subjectCaller(), http.MethodPost, "/api/v1/appointments", `{"start":"2025-03-04T10:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, e.subjectCaller(), http.MethodPost, "/api/v1/appointments", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, e.subjectCaller(), http.MethodGet, "/api/v1/appointments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Slots(t *testing.T) {
	e := newEnv(t)
	srv := e.server()
	e.book(t, e.at(tuesday, "10:00"))
	base := "/api/v1/practitioners/" + e.practitioner.ID.String() + "/slots?date=2025-03-04"

	rec := do(t, srv, e.subjectCaller(), http.MethodGet, base+"&duration=30", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Date  string          `json:"date"`
		Slots []CandidateSlot `json:"slots"`
	}](t, rec)
	assert.Equal(t, "2025-03-04", resp.Date)
	assert.Len(t, resp.Slots, 17)

	rec = do(t, srv, e.subjectCaller(), http.MethodGet, base+"&service_id="+e.service.ID.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, e.subjectCaller(), http.MethodGet, base, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, e.subjectCaller(), http.MethodGet, base+"&duration=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, e.subjectCaller(), http.MethodGet, "/api/v1/practitioners/"+e.practitioner.ID.String()+"/slots?date=04/03/2025&duration=30", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_AvailableDates(t *testing.T) {
	e := newEnv(t)
	srv := e.server()

	rec := do(t, srv, e.subjectCaller(), http.MethodGet,
		"/api/v1/practitioners/"+e.practitioner.ID.String()+"/available-dates?from=2025-03-03&to=2025-03-09", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Dates []string `json:"dates"`
	}](t, rec)
	assert.Equal(t, []string{"2025-03-03", "2025-03-04"}, resp.Dates)
}

func TestHandler_WeekAndMonth(t *testing.T) {
	e := newEnv(t)
	srv := e.server()
	e.book(t, e.at(tuesday, "10:00"))
	base := "/api/v1/practitioners/" + e.practitioner.ID.String()

	rec := do(t, srv, e.practitionerCaller(), http.MethodGet, base+"/schedule/week?start=2025-03-03", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	week := decode[struct {
		Days []struct {
			Schedule struct {
				Date  string `json:"date"`
				IsOff bool   `json:"is_off"`
			} `json:"schedule"`
			Bookings []BookedInterval `json:"bookings"`
		} `json:"days"`
	}](t, rec)
	require.Len(t, week.Days, 7)
	assert.Len(t, week.Days[1].Bookings, 1)
	assert.True(t, week.Days[2].Schedule.IsOff)

	rec = do(t, srv, e.practitionerCaller(), http.MethodGet, base+"/schedule/month?month=2025-03", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	month := decode[struct {
		Month string        `json:"month"`
		Days  []DaySchedule `json:"days"`
	}](t, rec)
	assert.Equal(t, "2025-03", month.Month)
	assert.Len(t, month.Days, 42)

	rec = do(t, srv, e.practitionerCaller(), http.MethodGet, base+"/schedule/month?month=March", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ManageAvailability(t *testing.T) {
	e := newEnv(t)
	srv := e.server()
	base := "/api/v1/practitioners/" + e.practitioner.ID.String()

	rec := do(t, srv, e.subjectCaller(), http.MethodPut, base+"/weekly-availability",
		`[{"day_of_week":5,"start_time":"09:00","end_time":"12:00"}]`)
	assert.Equal(t, http.StatusForbidden, rec.Code, "subjects lack the practitioner role")

	other := caller{"doc-2", auth.RolePractitioner}
	rec = do(t, srv, other, http.MethodPut, base+"/weekly-availability",
		`[{"day_of_week":5,"start_time":"09:00","end_time":"12:00"}]`)
	assert.Equal(t, http.StatusForbidden, rec.Code, "another practitioner's calendar")

	rec = do(t, srv, e.practitionerCaller(), http.MethodPut, base+"/weekly-availability",
		`[{"day_of_week":5,"start_time":"09:00","end_time":"12:00"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decode[[]WeeklyAvailability](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].DayOfWeek)

	rec = do(t, srv, e.practitionerCaller(), http.MethodPut, base+"/weekly-availability",
		`[{"day_of_week":5,"start_time":"12:00","end_time":"09:00"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, e.practitionerCaller(), http.MethodPut, base+"/overrides/2025-03-07", `{"start_time":null,"end_time":null}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, e.subjectCaller(), http.MethodGet, base+"/overrides?from=2025-03-01&to=2025-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	overrides := decode[[]AvailabilityOverride](t, rec)
	require.Len(t, overrides, 1)
	assert.Nil(t, overrides[0].StartTime)

	rec = do(t, srv, e.subjectCaller(), http.MethodGet, base+"/slots?date=2025-03-07&duration=30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slots":[]`)

	rec = do(t, srv, e.practitionerCaller(), http.MethodDelete, base+"/overrides/2025-03-07", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, e.practitionerCaller(), http.MethodPut, base+"/overrides/2025-03-07", `{"start_time":"09:00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ListBookingsPaginated(t *testing.T) {
	e := newEnv(t)
	srv := e.server()
	for _, hhmm := range []string{"09:00", "10:00", "11:00"} {
		e.book(t, e.at(tuesday, hhmm))
	}
	base := "/api/v1/practitioners/" + e.practitioner.ID.String() + "/bookings?from=2025-03-03&to=2025-03-09"

	rec := do(t, srv, e.practitionerCaller(), http.MethodGet, base+"&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[struct {
		Data    []BookedInterval `json:"data"`
		Total   int              `json:"total"`
		HasMore bool             `json:"has_more"`
	}](t, rec)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)

	rec = do(t, srv, e.practitionerCaller(), http.MethodGet, base+"&status=cancelled", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[struct {
		Total int `json:"total"`
	}](t, rec).Total)

	rec = do(t, srv, e.practitionerCaller(), http.MethodGet, base+"&status=lost", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, e.subjectCaller(), http.MethodGet, base, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_RescheduleCancelStatus(t *testing.T) {
	e := newEnv(t)
	srv := e.server()
	soon := e.book(t, e.at(monday, "09:00"))
	later := e.book(t, e.at(tuesday, "10:00"))

	rec := do(t, srv, e.subjectCaller(), http.MethodPost, "/api/v1/appointments/"+soon.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "modification_window_closed", decode[middleware.ErrorBody](t, rec).Code)

	rec = do(t, srv, e.subjectCaller(), http.MethodPut, "/api/v1/appointments/"+later.ID.String()+"/reschedule",
		`{"start":"2025-03-04T13:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, e.at(tuesday, "13:00"), decode[Appointment](t, rec).Start.UTC())

	rec = do(t, srv, e.subjectCaller(), http.MethodPut, "/api/v1/appointments/"+later.ID.String()+"/reschedule", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, e.subjectCaller(), http.MethodPost, "/api/v1/appointments/"+later.ID.String()+"/status", `{"status":"on_going"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, e.practitionerCaller(), http.MethodPost, "/api/v1/appointments/"+later.ID.String()+"/status", `{"status":"completed"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, e.practitionerCaller(), http.MethodPost, "/api/v1/appointments/"+later.ID.String()+"/status", `{"status":"on_going"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, StatusOnGoing, decode[Appointment](t, rec).Status)

	rec = do(t, srv, e.subjectCaller(), http.MethodPost, "/api/v1/appointments/"+later.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
