// Package app provides the application service layer.
//
// Orchestrates use cases: joining and leaving chat rooms, fanning out chat
// messages, publishing notifications. Sits between HTTP handlers and the
// registries, and routes fan-out through the cross-instance relay when one
// is configured.
package app
