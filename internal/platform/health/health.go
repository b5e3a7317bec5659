package health

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ServiceName is reported by the status endpoint.
const ServiceName = "naviMED"

// Handler serves the liveness endpoints used by load balancers and the
// deployment platform.
type Handler struct {
	now func() time.Time
}

func NewHandler(now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{now: now}
}

// RegisterRoutes mounts the liveness routes on g, normally /api.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/health", h.Health)
	g.GET("/healthz", h.Healthz)
	g.GET("/status", h.Status)
	g.GET("/ping", h.Ping)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": ServiceName,
		"status":  "operational",
	})
}

func (h *Handler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "pong"})
}
