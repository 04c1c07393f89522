// Package password is the credential verifier: argon2id hashing with
// constant-time verification.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.VerifyDummy] performs a full-cost derivation against a throwaway
// hash so that a login for an unknown identity costs the same as a wrong
// password for a known one.
//
// This package holds no state beyond its configuration and never sees where
// hashes are stored.
package password
