// Package limiters implements the login guard: the per-identity
// failed-attempt counter and lockout state machine.
//
// [LoginGuard] holds the policy and the clock; persistence is a
// [LockoutStore]. Two backends exist. identity.PGStore keeps the counter
// on the identity row and updates it with one conditional UPDATE.
// [RedisLockoutStore] keeps it in a Redis hash and updates it with a Lua
// script. Both apply increment and lock in a single round trip.
//
// The guard makes no response-shape decisions. Callers are responsible
// for folding ErrLocked into the same failure they return for a wrong
// password.
package limiters
