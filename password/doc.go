// Package password implements credential hashing and verification with bcrypt.
//
// # Output format
//
// Hashes are standard modular-crypt bcrypt strings ($2a$12$...). The default
// work factor is 12. [Bcrypt.NeedsRehash] reports hashes produced with a
// different cost so callers can upgrade them after a successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password strength rules
// are enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
