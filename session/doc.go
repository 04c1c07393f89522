// Package session is the session registry: active logins per identity,
// persisted in the sessions table.
//
//	sessions(id text primary key, identity_id text, tenant_id text, token_hash bytea,
//	         ip text, user_agent text, created_at timestamptz, last_activity_at timestamptz,
//	         expires_at timestamptz, active boolean, terminated_at timestamptz)
//
// Expiry is enforced lazily by [Registry.Lookup]; [Registry.Reap] only keeps
// storage tidy. The package does not interpret tokens or permissions.
package session
