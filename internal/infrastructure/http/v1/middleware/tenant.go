package middleware

import (
	"github.com/gin-gonic/gin"

	"fiscalcore/internal/core/apperror"
	appctx "fiscalcore/internal/core/context"
)

const (
	// TenantHeader is the HTTP header for tenant identification.
	TenantHeader = "X-Tenant-ID"
	// UserHeader names the caller when tokens are not required.
	UserHeader = "X-User-ID"
)

// HeaderTenant trusts X-Tenant-ID and X-User-ID. It is only mounted when
// tokens are disabled, for local development and internal callers behind a
// gateway that already authenticated the request.
func HeaderTenant(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantHeader)
		if tenantID == "" {
			_ = c.Error(
				apperror.NewValidation("tenant is required").
					WithDetail("header", TenantHeader),
			)
			c.Abort()
			return
		}

		setUser(c, &appctx.UserContext{
			UserID:   c.GetHeader(UserHeader),
			TenantID: tenantID,
			Roles:    roles,
		})
		c.Next()
	}
}
