// Package server provides the HTTP progress feed for watched jobs.
//
// It serves the live job registry from [store.Store]:
//
//   - REST API: JSON snapshots at "/api/jobs" and "/api/jobs/{id}"
//   - Server-Sent Events: Real-time updates at "/api/sse"
//   - WebSocket: Real-time updates and lookups at "/api/ws"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
