package scheduling

import (
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/carebook/internal/platform/apperr"
	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/calendar"
	"github.com/carebook/carebook/pkg/pagination"
)

// Handler exposes the scheduling engine over HTTP. Errors are returned as
// apperr values and rendered by the shared error handler.
type Handler struct {
	booking      *BookingCoordinator
	query        *Query
	availability *AvailabilityManager
}

func NewHandler(booking *BookingCoordinator, query *Query, availability *AvailabilityManager) *Handler {
	return &Handler{booking: booking, query: query, availability: availability}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: anyone signed in may look at a calendar
	read := api.Group("/practitioners/:id")
	read.GET("/weekly-availability", h.GetWeekly)
	read.GET("/overrides", h.ListOverrides)
	read.GET("/available-dates", h.AvailableDates)
	read.GET("/slots", h.AvailableSlots)
	read.GET("/schedule/week", h.WeekView)
	read.GET("/schedule/month", h.MonthView)

	// Calendar management: practitioner or staff
	manage := api.Group("/practitioners/:id", auth.RequireRole(auth.RolePractitioner, auth.RoleStaff))
	manage.PUT("/weekly-availability", h.PutWeekly)
	manage.PUT("/overrides/:date", h.PutOverride)
	manage.DELETE("/overrides/:date", h.DeleteOverride)
	manage.GET("/bookings", h.ListBookings)

	appts := api.Group("/appointments")
	appts.POST("", h.Book)
	appts.GET("/:id", h.GetAppointment)
	appts.PUT("/:id/reschedule", h.Reschedule)
	appts.POST("/:id/cancel", h.Cancel)
	appts.POST("/:id/status", h.UpdateStatus, auth.RequireRole(auth.RolePractitioner, auth.RoleStaff))
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindFormat, "invalid "+name)
	}
	return id, nil
}

func queryDate(c echo.Context, name string) (civil.Date, error) {
	v := c.QueryParam(name)
	if v == "" {
		return civil.Date{}, apperr.New(apperr.KindFormat, name+" is required")
	}
	return calendar.ParseDate(v)
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperr.Wrap(apperr.KindFormat, "invalid request body", err)
	}
	return nil
}

// -- Availability management --

func (h *Handler) GetWeekly(c echo.Context) error {
	pid, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	rows, err := h.availability.Weekly(c.Request().Context(), pid)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []WeeklyAvailability{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) PutWeekly(c echo.Context) error {
	pid, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var rows []WeeklyAvailability
	if err := bind(c, &rows); err != nil {
		return err
	}
	out, err := h.availability.ReplaceWeekly(c.Request().Context(), pid, rows)
	if err != nil {
		return err
	}
	if out == nil {
		out = []WeeklyAvailability{}
	}
	return c.JSON(http.StatusOK, out)
}

type overrideBody struct {
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
}

func (h *Handler) PutOverride(c echo.Context) error {
	pid, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	date, err := calendar.ParseDate(c.Param("date"))
	if err != nil {
		return err
	}
	var body overrideBody
	if err := bind(c, &body); err != nil {
		return err
	}
	o := &AvailabilityOverride{PractitionerID: pid, Date: date, StartTime: body.StartTime, EndTime: body.EndTime}
	if err := h.availability.SetOverride(c.Request().Context(), o); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) DeleteOverride(c echo.Context) error {
	pid, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	date, err := calendar.ParseDate(c.Param("date"))
	if err != nil {
		return err
	}
	if err := h.availability.DeleteOverride(c.Request().Context(), pid, date); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListOverrides(c echo.Context) error {
	pid, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	from, err := queryDate(c, "from")
	if err != nil {
		return err
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return err
	}
	out, err := h.availability.Overrides(c.Request().Context(), pid, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListBookings(c echo.Context) error {
	pid, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	from, err := queryDate(c, "from")
	if err != nil {
		return err
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return err
	}
	var statuses []Status
	if v := c.QueryParam("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			st := Status(strings.ToUpper(strings.TrimSpace(s)))
			if !st.Valid() {
				return apperr.New(apperr.KindFormat, "unknown status "+s)
			}
			statuses = append(statuses, st)
		}
	}
	ctx := c.Request().Context()
	if err := h.availability.AuthorizePractitioner(ctx, pid); err != nil {
		return err
	}
	booked, err := h.query.Bookings(ctx, pid, from, to, statuses)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(booked, pg), len(booked), pg.Limit, pg.Offset))
}

// -- Query surface --

func (h *Handler) AvailableDates(c echo.Context) error {
	pid, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	from, err := queryDate(c, "from")
	if err != nil {
		return err
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return err
	}
	dates, err := h.query.AvailableDates(c.Request().Context(), pid, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"dates": dates})
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	pid, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	date, err := queryDate(c, "date")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	var slots []CandidateSlot
	switch {
	case c.QueryParam("duration") != "":
		d, convErr := strconv.Atoi(c.QueryParam("duration"))
		if convErr != nil {
			return apperr.New(apperr.KindFormat, "duration must be a number of minutes")
		}
		slots, err = h.query.AvailableSlots(ctx, pid, date, d)
	case c.QueryParam("service_id") != "":
		sid, parseErr := uuid.Parse(c.QueryParam("service_id"))
		if parseErr != nil {
			return apperr.New(apperr.KindFormat, "invalid service_id")
		}
		slots, err = h.query.AvailableSlotsForService(ctx, pid, date, sid)
	default:
		return apperr.New(apperr.KindFormat, "duration or service_id is required")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"date": date, "slots": slots})
}

func (h *Handler) WeekView(c echo.Context) error {
	pid, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	start, err := queryDate(c, "start")
	if err != nil {
		return err
	}
	days, err := h.query.WeekView(c.Request().Context(), pid, start)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"days": days})
}

func (h *Handler) MonthView(c echo.Context) error {
	pid, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	month, err := calendar.ParseMonth(c.QueryParam("month"))
	if err != nil {
		return err
	}
	days, err := h.query.MonthView(c.Request().Context(), pid, month)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"month": c.QueryParam("month"), "days": days})
}

// -- Booking --

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.PractitionerID == uuid.Nil || req.ServiceID == uuid.Nil || req.SubjectProfileID == uuid.Nil {
		return apperr.New(apperr.KindFormat, "practitioner_id, service_id and subject_profile_id are required")
	}
	appt, err := h.booking.Book(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.booking.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req RescheduleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Start.IsZero() {
		return apperr.New(apperr.KindFormat, "start is required")
	}
	appt, err := h.booking.Reschedule(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.booking.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

type statusBody struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var body statusBody
	if err := bind(c, &body); err != nil {
		return err
	}
	appt, err := h.booking.UpdateStatus(c.Request().Context(), id, Status(strings.ToUpper(string(body.Status))))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}
