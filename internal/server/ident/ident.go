// Package ident generates and validates the opaque identifiers used across
// the system: binary hex IDs for uploads and files, restricted-alphabet
// tokens for short codes and user IDs.
package ident

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var (
	uploadIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]{6,64}$`)
	userIDPattern    = regexp.MustCompile(`^[0-9A-Za-z]{12,16}$`)
	shortcodePattern = regexp.MustCompile(`^[0-9A-Za-z]{6,8}$`)
)

// NewToken returns a random token drawn uniformly from the alphanumeric
// alphabet. The length is chosen uniformly from [minLen, maxLen].
func NewToken(minLen, maxLen int) (string, error) {
	if minLen < 1 || maxLen < minLen {
		return "", fmt.Errorf("invalid token length range [%d, %d]", minLen, maxLen)
	}

	length := minLen
	if maxLen > minLen {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(maxLen-minLen+1)))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		length = minLen + int(n.Int64())
	}

	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = alphabet[n.Int64()]
	}
	return string(result), nil
}

// NewBinaryID returns the hex encoding of 8 random bytes (16 characters).
// Used for upload and file IDs to keep filesystem paths short.
func NewBinaryID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto/rand failure: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SanitizeUploadID returns the ID unchanged if it is a well-formed upload or
// file identifier, or "" otherwise. Routing input passes through here before
// touching any store.
func SanitizeUploadID(id string) string {
	if !uploadIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// IsUserID reports whether s is a well-formed user identifier.
func IsUserID(s string) bool {
	return userIDPattern.MatchString(s)
}

// IsShortcode reports whether s is a well-formed short code.
func IsShortcode(s string) bool {
	return shortcodePattern.MatchString(s)
}
