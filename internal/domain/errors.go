package domain

import "errors"

var (
	ErrConnClosed      = errors.New("connection closed")
	ErrSlowConsumer    = errors.New("connection send buffer full")
	ErrRoomFull        = errors.New("room is full")
	ErrManagerStopped  = errors.New("connection manager stopped")
	ErrStreamClosed    = errors.New("subscription stream closed")
	ErrInvalidIdentity = errors.New("room id and user id are required")
	ErrInvalidMessage  = errors.New("invalid message")
)
