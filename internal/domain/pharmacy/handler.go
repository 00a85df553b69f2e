package pharmacy

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/echannel/echannel/internal/platform/auth"
	"github.com/echannel/echannel/pkg/pagination"
)

// maxPrescriptionImage caps upload size at 5 MiB.
const maxPrescriptionImage = 5 << 20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires pharmacy endpoints. Patients place and follow their
// own orders; the worklist and fulfilment actions are staff only.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/pharmacy/orders", h.CreateOrder, auth.RequireRole(auth.RolePatient))
	api.GET("/patients/me/orders", h.ListMyOrders, auth.RequireRole(auth.RolePatient))

	staff := api.Group("", auth.RequireRole(auth.RoleStaff))
	staff.GET("/pharmacy/orders", h.ListOrders)
	staff.GET("/pharmacy/orders/:id", h.GetOrder)
	staff.PUT("/pharmacy/orders/:id/approve", h.ApproveOrder)
	staff.PUT("/pharmacy/orders/:id/reject", h.RejectOrder)
	staff.GET("/prescriptions/:id/image", h.GetPrescriptionImage)
}

func (h *Handler) CreateOrder(c echo.Context) error {
	patientID, err := subjectID(c)
	if err != nil {
		return err
	}
	title := c.FormValue("title")
	file, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "prescription image is required")
	}
	if file.Size > maxPrescriptionImage {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "prescription image too large")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()
	image, err := io.ReadAll(io.LimitReader(src, maxPrescriptionImage))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	order, err := h.svc.CreateOrder(c.Request().Context(), patientID, title, image)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, order)
}

func (h *Handler) ListMyOrders(c echo.Context) error {
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

func (h *Handler) ListOrders(c echo.Context) error {
	status := OrderStatus(c.QueryParam("status"))
	if status == "" {
		status = OrderPending
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByStatus(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	order, err := h.svc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) ApproveOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	order, err := h.svc.Approve(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, order)
}

type rejectOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rejectOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	order, err := h.svc.Reject(c.Request().Context(), id, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) GetPrescriptionImage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPrescriptionImage(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.Blob(http.StatusOK, "application/octet-stream", p.Image)
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
	case errors.Is(err, ErrPrescriptionNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
