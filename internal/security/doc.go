// Package security provides cryptographic primitives for the gateway:
//
//   - Gateway master key generation and loading
//   - Sealing of profile credentials at rest (HKDF-SHA-512 + AES-256-GCM)
//   - API key generation and verification for the management API
//   - HTTP authentication middleware
//   - TLS certificate management (ECDSA self-signed, ACME, or
//     operator-provided files)
//
// Profile passwords are never stored in plaintext: the store holds the
// sealed form and only the dispatcher opens it, immediately before
// dialing the remote display. The sealed format carries a version
// prefix (v1:) so the construction can change without invalidating
// existing databases.
package security
