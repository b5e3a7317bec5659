package appointment

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/navimed/navimed/internal/platform/middleware"
	"github.com/navimed/navimed/pkg/pagination"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes mounts the appointment API on g, normally
// /api/v1/appointments.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.DELETE("", h.Clear)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/status", h.UpdateStatus)
}

func tenantOf(c echo.Context) string {
	if tid := middleware.TenantFromContext(c.Request().Context()); tid != "" {
		return tid
	}
	tid, _ := c.Get(middleware.TenantKey).(string)
	return tid
}

// TenantTopic binds a websocket client to its tenant's change topic.
func TenantTopic(c echo.Context) string {
	return Topic(tenantOf(c))
}

func (h *Handler) store(c echo.Context) (*Store, error) {
	tid := tenantOf(c)
	if tid == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}
	return h.registry.ForTenant(tid), nil
}

func (h *Handler) List(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)

	var items []Appointment
	switch {
	case c.QueryParam("today") == "true":
		items = s.TodayAppointments(ctx)
	case c.QueryParam("doctorId") != "":
		items = s.DoctorAppointments(ctx, c.QueryParam("doctorId"))
	default:
		items = s.GetAppointments(ctx)
	}
	items = narrow(items, c.QueryParam("doctorId"), c.QueryParam("patientId"), c.QueryParam("status"))

	return c.JSON(http.StatusOK, pagination.Slice(items, pg))
}

func narrow(items []Appointment, doctorID, patientID, status string) []Appointment {
	if doctorID == "" && patientID == "" && status == "" {
		return items
	}
	out := make([]Appointment, 0, len(items))
	for _, a := range items {
		if doctorID != "" && a.DoctorID != doctorID {
			continue
		}
		if patientID != "" && a.PatientID != patientID {
			continue
		}
		if status != "" && string(a.Status) != status {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (h *Handler) Get(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	a, err := s.GetByID(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Create(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	for _, f := range []*string{&in.PatientName, &in.DoctorName, &in.Type, &in.Reason, &in.Notes} {
		*f = middleware.SanitizeString(*f)
	}

	id, err := s.CreateAppointment(c.Request().Context(), in)
	if errors.Is(err, ErrValidation) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "appointment storage unavailable")
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

// bindError keeps a body-limit overflow visible to the BodyLimit middleware.
func bindError(err error) error {
	if middleware.IsPayloadTooLarge(err) {
		return err
	}
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	ok, err := s.UpdateStatus(ctx, id, req.Status)
	if errors.Is(err, ErrInvalidStatus) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "appointment storage unavailable")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}

	a, err := s.GetByID(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Clear(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	if err := s.ClearAll(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "appointment storage unavailable")
	}
	return c.NoContent(http.StatusNoContent)
}
