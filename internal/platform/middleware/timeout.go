package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// CodeRequestTimeout is the error code of a request that outlived its deadline.
const CodeRequestTimeout = "REQUEST_TIMEOUT"

// RequestTimeout puts a deadline on the request context. The handler runs
// on the calling goroutine, so the echo.Context is never touched after the
// middleware returns. A handler that fails once the deadline has passed gets
// a 504. Appointment websocket upgrades are long lived and carry no deadline.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout: timeout,
		Skipper: func(c echo.Context) bool {
			return strings.HasSuffix(c.Request().URL.Path, "/ws")
		},
		ErrorHandler: func(err error, c echo.Context) error {
			expired := errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(c.Request().Context().Err(), context.DeadlineExceeded)
			if !expired || c.Response().Committed {
				return err
			}
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "appointment request exceeded " + timeout.String(),
				"code":  CodeRequestTimeout,
			})
		},
	})
}
