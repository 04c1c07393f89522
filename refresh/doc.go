// Package refresh is the token revocation store: one row per issued refresh
// token in the refresh_tokens table.
//
//	refresh_tokens(id text primary key, identity_id text, session_id text,
//	               issued_at timestamptz, expires_at timestamptz,
//	               revoked boolean, revoked_at timestamptz, revoke_reason text,
//	               replaced_by text, last_used_at timestamptz)
//
// A revoked record is never honoured, even before it expires. Rotation
// revokes the presented record with a conditional UPDATE and inserts its
// successor in the same transaction, so two clients racing on the same
// refresh token cannot both win and a failed insert leaves the presented
// token usable. revoke_reason separates rotation from logout and forced
// revocation: only a rotated record presented again reports ErrReused.
package refresh
