// Package keyfile reads and validates the shared symmetric key file: a
// text file whose trimmed content base64-decodes to exactly 32 bytes
// (spec §6 "Key file format", §7 InvalidKey).
package keyfile

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidKey is returned when the key file is missing, not valid
// Base64, or does not decode to exactly 32 bytes.
var ErrInvalidKey = errors.New("keyfile: invalid key")

// Read loads and validates the key at path, returning the raw 32-byte key
// material.
func Read(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty key file", ErrInvalidKey)
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64: %v", ErrInvalidKey, err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("%w: decoded length %d, want 32", ErrInvalidKey, len(decoded))
	}
	return decoded, nil
}
