// Package identity reads accounts and persists their lockout counters.
//
//	identities(id text primary key, tenant_id text, email text unique, password_hash text,
//	           is_active boolean, is_verified boolean, is_superuser boolean,
//	           failed_attempts integer, locked_until timestamptz, deleted_at timestamptz)
//	identity_roles(identity_id text, role_name text)
//
// Counter and lock expiry always change together in a single UPDATE.
package identity
