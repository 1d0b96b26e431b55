package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/roomcast/internal/domain"
	apperrors "github.com/pscheid92/roomcast/internal/platform/errors"
)

const (
	minKeepalive = time.Second
	maxKeepalive = 5 * time.Minute
)

func (s *Server) handleEvents(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if err := validateIdentifier("user_id", userID); err != nil {
		return err
	}
	keepalive, err := s.parseKeepalive(c.QueryParam("keepalive"))
	if err != nil {
		return err
	}

	release, err := s.admit(c, streamKindSSE)
	if err != nil {
		return err
	}
	defer release()

	ctx := c.Request().Context()
	stream := s.notifications.Subscribe(domain.UserID(userID), keepalive)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	slog.DebugContext(ctx, "Event stream opened", "user_id", userID, "keepalive", keepalive)

	for ev := range stream.All(ctx) {
		if err := writeEvent(res, ev); err != nil {
			slog.DebugContext(ctx, "Event stream write failed", "user_id", userID, "error", err)
			break
		}
		res.Flush()
	}

	slog.DebugContext(ctx, "Event stream closed", "user_id", userID)
	return nil
}

// writeEvent renders ev in text/event-stream framing. Keepalives are
// comments so EventSource clients never surface them.
func writeEvent(w http.ResponseWriter, ev domain.Event) error {
	if ev.IsKeepalive() {
		_, err := fmt.Fprint(w, ": keepalive\n\n")
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, payload)
	return err
}

// parseKeepalive accepts a Go duration ("30s") or whole seconds ("30").
// An empty value selects the configured default.
func (s *Server) parseKeepalive(raw string) (time.Duration, error) {
	if raw == "" {
		return s.config.KeepaliveInterval, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, apperrors.ValidationError("keepalive must be a duration such as 15s").WithContext("keepalive", raw)
		}
		d = time.Duration(secs) * time.Second
	}
	if d < minKeepalive || d > maxKeepalive {
		return 0, apperrors.ValidationError(fmt.Sprintf("keepalive must be between %s and %s", minKeepalive, maxKeepalive)).WithContext("keepalive", raw)
	}
	return d, nil
}

func (s *Server) handleUnsubscribe(c echo.Context) error {
	userID := c.Param("user")
	if err := validateIdentifier("user", userID); err != nil {
		return err
	}

	s.notifications.Unsubscribe(domain.UserID(userID))
	if err := c.NoContent(http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to write unsubscribe response: %w", err)
	}
	return nil
}
