// Package keys holds the process-wide registry of RSA key pairs used to sign
// and verify access and refresh tokens.
//
// Every entry is addressed by a key identifier (kid) derived from its public
// key, so the same key material always maps to the same entry and tokens can
// name the exact key that signed them. Entries are deactivated rather than
// removed: an inactive key no longer signs new tokens and is dropped from the
// published JWKS, but tokens it already signed keep verifying until they
// expire.
package keys
