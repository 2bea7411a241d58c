package logger

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ContextKey is the echo context key holding the request logger.
const ContextKey = "logger"

// FromEcho retrieves the request logger from the Echo context, falling back
// to the global logger when the middleware did not run.
func FromEcho(c echo.Context) *zap.Logger {
	if log, ok := c.Get(ContextKey).(*zap.Logger); ok {
		return log
	}
	return zap.L()
}
