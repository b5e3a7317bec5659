package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// CodePayloadTooLarge is the error code of an oversized appointment payload.
const CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"

// BodyLimit caps appointment write payloads (POST, PUT, PATCH) at limit,
// given in echo's size notation ("64K", "1M"). Both the declared
// Content-Length and the bytes actually read count. Oversized writes get a
// 413 JSON body.
func BodyLimit(limit string) echo.MiddlewareFunc {
	capped := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   limit,
		Skipper: func(c echo.Context) bool { return !carriesPayload(c.Request().Method) },
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := capped(next)
		return func(c echo.Context) error {
			err := h(c)
			if IsPayloadTooLarge(err) && !c.Response().Committed {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": "appointment payload exceeds " + limit,
					"code":  CodePayloadTooLarge,
				})
			}
			return err
		}
	}
}

// IsPayloadTooLarge reports whether err came from a body read that crossed
// the BodyLimit cap, even after a binder wrapped it.
func IsPayloadTooLarge(err error) bool {
	return errors.Is(err, echo.ErrStatusRequestEntityTooLarge)
}

func carriesPayload(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
