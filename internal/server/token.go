package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// The extension authenticates every call with this header. The token lives in
// a 0600 file inside the data dir; only software running as the same user can
// read it, which is the trust boundary for a loopback agent.
const sessionTokenHeader = "X-Lantern-Token"

// loadOrCreateToken reuses the persisted session token or mints a fresh one.
func loadOrCreateToken(path string) (string, error) {
	if b, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(b)); token != "" {
			return token, nil
		}
	}

	token, err := newSessionToken()
	if err != nil {
		return "", errors.Wrap(err, "generate session token")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", errors.Wrap(err, "mkdir token dir")
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", errors.Wrap(err, "write token file")
	}
	return token, nil
}

// tokenMatches compares hashes in constant time so the comparison leaks
// nothing about the token.
func tokenMatches(expected, presented string) bool {
	if expected == "" || presented == "" {
		return false
	}
	a := sha256.Sum256([]byte(expected))
	b := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
