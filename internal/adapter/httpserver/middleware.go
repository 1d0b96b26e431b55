package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/roomcast/internal/platform/correlation"
)

// correlationMiddleware attaches a request id to the context and echoes it
// back, reusing a well-formed X-Request-ID from the caller.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.HeaderName))
		c.Response().Header().Set(correlation.HeaderName, id)

		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
