package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func scrape(t *testing.T) string {
	t.Helper()
	e := echo.New()
	e.GET("/metrics", Handler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandler_ExposesCollectors(t *testing.T) {
	AppointmentWrites.WithLabelValues("create", "ok").Inc()
	CSRFRejections.WithLabelValues("CSRF_TOKEN_MISSING").Inc()
	AppointmentBackendErrors.WithLabelValues("redis", "load").Inc()

	body := scrape(t)
	for _, want := range []string{
		`navimed_appointment_writes_total{op="create",result="ok"}`,
		`navimed_csrf_rejections_total{code="CSRF_TOKEN_MISSING"}`,
		`navimed_appointment_backend_errors_total{backend="redis",op="load"}`,
		"navimed_appointment_subscribers",
		"navimed_csrf_tokens_issued_total",
		"navimed_csrf_swept_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}
