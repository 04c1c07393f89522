// Package rate is the request admission limiter: a Redis-backed counter
// over two nested windows (minute and hour) per subject.
//
// # Window semantics
//
// Buckets are floor(now/60) and floor(now/3600). One Lua script reads
// both counters, rejects if either is at its ceiling, and otherwise
// increments both and refreshes their TTL to twice the window. Keys:
//
//	ratelimit:{kind}:{id}:{window}:{bucket}
//
// # Tiers
//
//   - superuser: per identity, 1000/min 10000/hr
//   - user: per identity, 100/min 1000/hr
//   - anonymous_auth: per IP and route class, 20/min 100/hr
//   - anonymous: per IP, 60/min 500/hr
//
// # Failure policy
//
// A store error or timeout admits the request. The decision is marked
// Degraded, a sampled warning is logged and the degraded hook fires.
package rate
