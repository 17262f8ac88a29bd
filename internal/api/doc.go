// Package api implements the HTTP REST API and WebSocket server for the AVR
// sync service.
//
// This package provides:
//   - REST endpoints to list receivers, read their published state and history
//   - A command endpoint that hands intents to the dispatcher (202 Accepted)
//   - WebSocket hub pushing every published state as "receiver.state_changed"
//   - Prometheus exposition on /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server is a rendering surface like the MQTT state bus. It reads the
// view each receiver keeps of its last published state and never queries a
// device itself. Commands return as soon as they are validated; the resulting
// state arrives later through the normal publish path.
//
// # WebSocket
//
// Clients subscribe with
//
//	{"type":"subscribe","id":"1","payload":{"channels":["receiver.state_changed"],"receivers":["den"],"snapshot":true}}
//
// An empty receivers list follows every receiver. With snapshot set, the
// current view of each matching receiver is sent straight away with
// trigger "snapshot". Slow clients lose events rather than block the hub.
//
// # Graceful Degradation
//
// History and metrics are optional. Without them the corresponding
// endpoints answer 503 or are not mounted.
package api
