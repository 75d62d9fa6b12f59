package keyfile

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeKey(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestReadValidKey(t *testing.T) {
	raw := make([]byte, 32)
	path := writeKey(t, base64.StdEncoding.EncodeToString(raw)+"\n")
	key, err := Read(path)
	require.NoError(t, err)
	require.Len(t, key, 32)
}

func TestReadWrongLength(t *testing.T) {
	path := writeKey(t, base64.StdEncoding.EncodeToString(make([]byte, 16)))
	_, err := Read(path)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestReadNotBase64(t *testing.T) {
	path := writeKey(t, "not base64 at all!!")
	_, err := Read(path)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestReadEmptyFile(t *testing.T) {
	path := writeKey(t, "   \n")
	_, err := Read(path)
	require.ErrorIs(t, err, ErrInvalidKey)
}
