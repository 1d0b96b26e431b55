package websocket

import (
	"net/http"

	ws "github.com/gorilla/websocket"
)

const (
	readBufferSize  = 1024
	writeBufferSize = 1024
)

// NewUpgrader returns the HTTP upgrader for room connections.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *ws.Upgrader {
	return &ws.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
		CheckOrigin:     checkOrigin,
	}
}
