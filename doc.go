// Package authcore is an authentication and access-control core: signed
// access and refresh tokens, a refresh-token revocation store, login
// lockout, a session registry, role-based permissions with inheritance and
// a Redis sliding-window rate limiter.
//
// An [Engine] is assembled with [Builder] and exposes the login, refresh
// and logout protocols plus the per-request Validate and Allow checks.
// Engine methods are safe for concurrent use; all shared state lives in
// PostgreSQL and Redis.
//
// # Failure policy
//
// Revocation state fails closed: when the denylist or a revocation record
// cannot be read the token is rejected with [ErrInvalidToken]. Rate
// limiting fails open: when the counter store is unreachable requests are
// admitted and the decision is marked Degraded.
//
// Login never distinguishes an unknown email, a wrong password or a
// locked account. All three return [ErrAuthenticationFailed] after the
// same amount of password-hashing work.
//
// # Packages
//
// The HTTP boundary lives in httpapi and middleware; metric exporters
// live under metrics/export. Everything under internal is private.
package authcore
