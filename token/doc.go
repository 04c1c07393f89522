// Package token mints and verifies the signed, time-boxed tokens used by
// authcore.
//
// Access tokens carry the subject, tenant, session and a snapshot of
// effective permission names. Refresh tokens carry the subject and the
// identifier of their revocation record. Both declare their purpose in a
// "typ" claim, and [Manager.Verify] rejects a token presented for the other
// purpose.
//
// Only the configured algorithm is accepted; "none" and every other
// algorithm fail before any key is consulted.
//
// This package performs no I/O. Revocation lives in package refresh and
// the denylist.
package token
