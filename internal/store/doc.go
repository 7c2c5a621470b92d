// Package store provides the live job registry and its pub/sub feed.
//
// The registry holds the latest [JobSnapshot] of every attempt the CLI is
// watching, keyed by correlation ID. It implements a publish-subscribe
// pattern so the progress feed (SSE and WebSocket) can push updates to
// connected clients as callbacks fire.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [JobSnapshot]: Storage representation of one attempt
//
// The store is designed for concurrent access with proper synchronization.
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the poller).
package store
