// Package password hashes and verifies account secrets.
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verify also accepts bcrypt hashes carried over from older account tables.
// NeedsUpgrade reports those, and Argon2id hashes produced with weaker
// parameters, so the caller can re-hash after the next successful login.
//
// The package never stores secrets and never logs plaintext.
package password
