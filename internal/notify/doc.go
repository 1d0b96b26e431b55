// Package notify delivers server-sent event streams to subscribed users.
//
// Each Subscribe call owns a bounded FIFO queue. Producers never block: an
// event that does not fit is dropped for that subscription and counted.
// Streams yield a keepalive marker when nothing arrived within their
// keepalive interval.
package notify
