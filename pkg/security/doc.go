// Package security provides password hashing for grid user accounts.
// Hashes are salted SHA-256 digests; verification is constant time.
package security
