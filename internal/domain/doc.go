// Package domain defines the core types and interfaces shared by the realtime registries.
//
// This package contains concept-oriented files (room.go, event.go, transport.go, errors.go)
// with shared types and cross-cutting interfaces. No implementation code - just contracts.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
