// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CSRFTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "navimed_csrf_tokens_issued_total",
			Help: "Total number of CSRF tokens issued",
		},
	)

	CSRFRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navimed_csrf_rejections_total",
			Help: "Total number of requests rejected by the CSRF guard",
		},
		[]string{"code"},
	)

	CSRFSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "navimed_csrf_swept_total",
			Help: "Total number of expired CSRF tokens removed by the sweeper",
		},
	)

	AppointmentWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navimed_appointment_writes_total",
			Help: "Total number of appointment log writes",
		},
		[]string{"op", "result"},
	)

	AppointmentBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navimed_appointment_backend_errors_total",
			Help: "Total number of appointment storage backend failures",
		},
		[]string{"backend", "op"},
	)

	AppointmentSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "navimed_appointment_subscribers",
			Help: "Number of active appointment log subscribers",
		},
	)
)

// Handler exposes the default registry for scraping.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
