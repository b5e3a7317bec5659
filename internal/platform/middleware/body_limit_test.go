package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type bookingPayload struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
	Notes     string `json:"notes"`
}

// bookingServer mounts BodyLimit in front of a handler that binds the
// payload and maps an overflowing read back to 413, the way the appointment
// handler does.
func bookingServer(limit string) *echo.Echo {
	e := echo.New()
	e.Use(BodyLimit(limit))
	book := func(c echo.Context) error {
		var p bookingPayload
		if err := c.Bind(&p); err != nil {
			if IsPayloadTooLarge(err) {
				return err
			}
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		return c.JSON(http.StatusCreated, p)
	}
	e.POST("/api/v1/appointments", book)
	e.PATCH("/api/v1/appointments/:id/status", book)
	e.GET("/api/v1/appointments", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return e
}

func bookingBody(notes string) string {
	return `{"patientId":"pat-1","doctorId":"dr-house","notes":"` + notes + `"}`
}

func TestBodyLimit_AcceptsBooking(t *testing.T) {
	e := bookingServer("1K")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(bookingBody("follow-up")))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var p bookingPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if p.DoctorID != "dr-house" {
		t.Errorf("expected doctorId dr-house, got %q", p.DoctorID)
	}
}

func TestBodyLimit_RejectsOversizedDeclaredLength(t *testing.T) {
	e := bookingServer("1K")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(bookingBody(strings.Repeat("n", 2048))))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assertPayloadTooLarge(t, rec)
}

func TestBodyLimit_RejectsOversizedStreamedStatusUpdate(t *testing.T) {
	e := bookingServer("256")
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/appointments/appt-1/status",
		strings.NewReader(`{"status":"cancelled","notes":"`+strings.Repeat("x", 1024)+`"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assertPayloadTooLarge(t, rec)
}

func TestBodyLimit_SkipsListing(t *testing.T) {
	e := bookingServer("16")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", strings.NewReader(strings.Repeat("q", 64)))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for listing, got %d", rec.Code)
	}
}

func TestBodyLimit_MalformedBookingStaysBadRequest(t *testing.T) {
	e := bookingServer("1K")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(`{"patientId":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func assertPayloadTooLarge(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["code"] != CodePayloadTooLarge {
		t.Errorf("expected %s, got %q", CodePayloadTooLarge, body["code"])
	}
}
