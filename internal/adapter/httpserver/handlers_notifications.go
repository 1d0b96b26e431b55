package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/roomcast/internal/domain"
	apperrors "github.com/pscheid92/roomcast/internal/platform/errors"
)

const maxNotificationBody = 64 << 10

func (s *Server) handleNotify(c echo.Context) error {
	userID := c.Param("user")
	if err := validateIdentifier("user", userID); err != nil {
		return err
	}
	req, err := decodeNotification(c)
	if err != nil {
		return err
	}

	result, err := s.notifications.Notify(c.Request().Context(), domain.UserID(userID), req)
	if err != nil {
		return fmt.Errorf("notify %s: %w", userID, err)
	}
	if err := c.JSON(http.StatusOK, result); err != nil {
		return fmt.Errorf("failed to write notify response: %w", err)
	}
	return nil
}

func (s *Server) handleBroadcast(c echo.Context) error {
	req, err := decodeNotification(c)
	if err != nil {
		return err
	}

	result, err := s.notifications.Broadcast(c.Request().Context(), req)
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	if err := c.JSON(http.StatusOK, result); err != nil {
		return fmt.Errorf("failed to write broadcast response: %w", err)
	}
	return nil
}

func decodeNotification(c echo.Context) (domain.NotificationRequest, error) {
	var req domain.NotificationRequest
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxNotificationBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return req, apperrors.ValidationError("request body must be a JSON object with kind and data")
	}
	return req, nil
}
