// Package redis relays room broadcasts and notifications between instances
// over Redis Pub/Sub.
//
// Every instance publishes to shared channels and delivers what it receives
// to its local registries. Room channels are subscribed only while the room
// has local members. The package also owns the Redis client (metrics and
// circuit breaker hooks) and the shared instance registry.
package redis
