// Package internal holds identifier and token-digest helpers private to authcore.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - denylist: Redis-backed access-token and session denylist
//   - flows: login, refresh and logout protocol functions over injected dependencies
//   - limiters: login guard lockout state machine and its Redis backend
//   - logging: zap logger construction
//   - rate: Redis sliding-window request limiter
//
// Nothing here appears in the public authcore API.
package internal
