package booking

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/echannel/echannel/internal/platform/auth"
	"github.com/echannel/echannel/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the booking and queue endpoints. Everything here
// requires a token; queue advancement is for doctors and staff.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/appointments", h.CreateAppointment, auth.RequireRole(auth.RolePatient))
	api.GET("/appointments/:id", h.GetAppointment)
	api.GET("/appointments/:id/queue", h.GetQueueForAppointment)
	api.GET("/patients/me/appointments", h.ListMyAppointments, auth.RequireRole(auth.RolePatient))

	api.GET("/schedules/:scheduleId/queue", h.ListQueue, auth.RequireRole(auth.RoleDoctor))
	api.POST("/schedules/:scheduleId/complete", h.CompleteCurrent, auth.RequireRole(auth.RoleDoctor))
}

type createAppointmentRequest struct {
	PatientID  uuid.UUID `json:"patientId"`
	DoctorID   uuid.UUID `json:"doctorId"`
	ScheduleID uuid.UUID `json:"scheduleId"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req createAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID := req.PatientID
	// Patients always book for themselves; staff may book on a patient's
	// behalf by supplying patientId.
	if auth.RoleFromContext(c.Request().Context()) == auth.RolePatient || patientID == uuid.Nil {
		id, err := subjectID(c)
		if err != nil {
			return err
		}
		patientID = id
	}
	conf, err := h.svc.CreateAppointment(c.Request().Context(), patientID, req.DoctorID, req.ScheduleID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, conf)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) GetQueueForAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	view, err := h.svc.GetQueueForAppointment(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ListMyAppointments(c echo.Context) error {
	patientID, err := subjectID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListQueue(c echo.Context) error {
	scheduleID, err := uuid.Parse(c.Param("scheduleId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule id")
	}
	items, err := h.svc.ListQueue(c.Request().Context(), scheduleID, c.QueryParam("status"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CompleteCurrent(c echo.Context) error {
	scheduleID, err := uuid.Parse(c.Param("scheduleId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule id")
	}
	caller := uuid.Nil
	if auth.RoleFromContext(c.Request().Context()) == auth.RoleDoctor {
		caller, err = subjectID(c)
		if err != nil {
			return err
		}
	}
	entry, err := h.svc.CompleteCurrent(c.Request().Context(), scheduleID, caller)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func subjectID(c echo.Context) (uuid.UUID, error) {
	sub := auth.SubjectFromContext(c.Request().Context())
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
	}
	return id, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrDoctorNotFound),
		errors.Is(err, ErrScheduleNotFound),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrQueueEntryNotFound),
		errors.Is(err, ErrQueueEmpty):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateBooking),
		errors.Is(err, ErrScheduleUnavailable),
		errors.Is(err, ErrCapacityReached),
		errors.Is(err, ErrBookingConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotScheduleOwner):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrScheduleExpired), errors.Is(err, ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
