package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders marks every response as an uncacheable, unframeable JSON
// document. HSTS is only sent when hsts is set, since development servers
// run over plain HTTP.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderXContentTypeOptions, "nosniff")
			h.Set(echo.HeaderXFrameOptions, "DENY")
			h.Set(echo.HeaderContentSecurityPolicy, "default-src 'none'; frame-ancestors 'none'")
			h.Set(echo.HeaderReferrerPolicy, "no-referrer")
			if hsts {
				h.Set(echo.HeaderStrictTransportSecurity, "max-age=31536000; includeSubDomains")
			}
			// Balances and receipts.
			h.Set(echo.HeaderCacheControl, "no-store")
			h.Set("Pragma", "no-cache")
			return next(c)
		}
	}
}
