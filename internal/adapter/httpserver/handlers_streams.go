package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/roomcast/internal/platform/errors"
)

const (
	streamKindWebSocket = "websocket"
	streamKindSSE       = "sse"
)

// admit reserves an admission slot for a long-lived stream and returns the
// function that gives it back.
func (s *Server) admit(c echo.Context, kind string) (func(), error) {
	ip := c.RealIP()
	ok, reason := s.admission.acquire(ip)
	if !ok {
		s.httpMetrics.AdmissionRejected.WithLabelValues(reason).Inc()
		slog.WarnContext(c.Request().Context(), "Stream rejected", "kind", kind, "remote_addr", ip, "reason", reason)

		switch reason {
		case rejectReasonGlobal, rejectReasonStopped:
			return nil, apperrors.UnavailableError("server cannot accept more streams", nil).WithContext("reason", reason)
		default:
			return nil, apperrors.RateLimitedError("too many streams from this address").WithContext("reason", reason)
		}
	}

	gauge := s.httpMetrics.StreamsOpen.WithLabelValues(kind)
	gauge.Inc()
	return func() {
		gauge.Dec()
		s.admission.release(ip)
	}, nil
}
