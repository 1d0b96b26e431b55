package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/roomcast/internal/adapter/websocket"
	"github.com/pscheid92/roomcast/internal/domain"
	apperrors "github.com/pscheid92/roomcast/internal/platform/errors"
)

const maxIdentifierLength = 128

func (s *Server) handleRoomSocket(c echo.Context) error {
	roomID := c.Param("room")
	userID := c.QueryParam("user_id")
	if err := validateIdentifier("room", roomID); err != nil {
		return err
	}
	if err := validateIdentifier("user_id", userID); err != nil {
		return err
	}
	displayName := c.QueryParam("name")
	if displayName == "" {
		displayName = userID
	}

	release, err := s.admit(c, streamKindWebSocket)
	if err != nil {
		return err
	}
	defer release()

	wsConn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		slog.Warn("WebSocket upgrade failed", "room_id", roomID, "remote_addr", c.RealIP(), "error", err)
		return nil
	}

	conn := websocket.New(wsConn, s.clock, websocket.Options{}, s.wsMetrics)
	defer func() {
		_ = conn.Close("bye")
		<-conn.Done()
	}()

	ctx := c.Request().Context()
	err = s.chat.Serve(ctx, conn, domain.RoomID(roomID), domain.UserID(userID), displayName)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRoomFull):
		_ = conn.Close("room full")
	case errors.Is(err, domain.ErrManagerStopped):
		_ = conn.Close("server shutting down")
	default:
		slog.WarnContext(ctx, "Room session ended with error", "room_id", roomID, "user_id", userID, "conn_id", conn.ID(), "error", err)
	}
	return nil
}

func (s *Server) handleRoomMembers(c echo.Context) error {
	roomID := c.Param("room")
	if err := validateIdentifier("room", roomID); err != nil {
		return err
	}

	members := s.chat.Members(domain.RoomID(roomID))
	if members == nil {
		members = []domain.Member{}
	}

	response := map[string]any{
		"room_id": roomID,
		"count":   len(members),
		"members": members,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write members response: %w", err)
	}
	return nil
}

func validateIdentifier(field, value string) error {
	if value == "" {
		return apperrors.ValidationError(field + " is required").WithContext("field", field)
	}
	if len(value) > maxIdentifierLength {
		return apperrors.ValidationError(fmt.Sprintf("%s must be at most %d characters", field, maxIdentifierLength)).WithContext("field", field)
	}
	return nil
}
