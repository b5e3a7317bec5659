package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	// TenantKey is the echo context key holding the resolved tenant.
	TenantKey = "tenant_id"

	// TenantHeader names the header a client uses to pick its tenant.
	TenantHeader = "X-Tenant-ID"

	tenantCtxKey contextKey = "tenant_id"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Tenant resolves the tenant for the request and stores it on both the echo
// context and the request context. Appointment stores are keyed per tenant,
// so an identifier outside the allowed alphabet is rejected.
func Tenant(defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)

			if !tenantIDPattern.MatchString(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := context.WithValue(c.Request().Context(), tenantCtxKey, tenantID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(TenantKey, tenantID)

			return next(c)
		}
	}
}

func extractTenantID(c echo.Context, defaultTenant string) string {
	if tid := c.Request().Header.Get(TenantHeader); tid != "" {
		return tid
	}
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}
	return defaultTenant
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(tenantCtxKey).(string)
	return tid
}

// ValidTenantID reports whether id is an acceptable tenant identifier.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}
