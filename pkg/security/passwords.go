package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const saltSize = 16

// HashPassword returns a salted SHA-256 digest of password in the form
// "base64(salt)$base64(digest)". The salt is fresh per call, so equal
// passwords produce distinct hashes.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	digest := digest(salt, password)
	return base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(digest), nil
}

// VerifyPassword reports whether password matches a hash produced by
// HashPassword. Comparison is constant time.
func VerifyPassword(hash, password string) bool {
	saltPart, digestPart, ok := strings.Cut(hash, "$")
	if !ok {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(digestPart)
	if err != nil {
		return false
	}

	got := digest(salt, password)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func digest(salt []byte, password string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	return h.Sum(nil)
}
