package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidAPIKey = errors.New("invalid API key")

// Config enables bearer API key checks on the API
type Config struct {
	// APIKeys are accepted as-is
	APIKeys []string `mapstructure:"api_keys" yaml:"api_keys"`
	// APIKeyHashes are bcrypt hashes produced by HashAPIKey
	APIKeyHashes []string `mapstructure:"api_key_hashes" yaml:"api_key_hashes"`
}

// Enabled reports whether any key is configured
func (c Config) Enabled() bool {
	return len(c.APIKeys) > 0 || len(c.APIKeyHashes) > 0
}

// Verifier checks presented API keys against plain and hashed keys
type Verifier struct {
	plain  []string
	hashes [][]byte

	// bcrypt is slow; remember digests of keys that already matched a hash
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewVerifier creates a verifier from configuration
func NewVerifier(cfg Config) *Verifier {
	v := &Verifier{
		plain:    append([]string(nil), cfg.APIKeys...),
		verified: make(map[[sha256.Size]byte]struct{}),
	}
	for _, h := range cfg.APIKeyHashes {
		v.hashes = append(v.hashes, []byte(h))
	}
	return v
}

// Verify returns nil when key matches a configured key
func (v *Verifier) Verify(key string) error {
	if key == "" {
		return ErrInvalidAPIKey
	}

	for _, p := range v.plain {
		if SecureCompare(key, p) {
			return nil
		}
	}

	digest := sha256.Sum256([]byte(key))
	v.mu.RLock()
	_, ok := v.verified[digest]
	v.mu.RUnlock()
	if ok {
		return nil
	}

	for _, h := range v.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			v.mu.Lock()
			v.verified[digest] = struct{}{}
			v.mu.Unlock()
			return nil
		}
	}

	return ErrInvalidAPIKey
}

// Middleware rejects requests without a valid "Authorization: Bearer <key>".
// Paths in skip and CORS preflight requests pass through.
func (v *Verifier) Middleware(skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, "Missing Authorization header")
				return
			}

			key, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || v.Verify(key) != nil {
				writeUnauthorized(w, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, "{\"detail\":%q}\n", detail)
}

// GenerateAPIKey returns a random URL-safe key
func GenerateAPIKey() (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(keyBytes), nil
}

// HashAPIKey returns the bcrypt hash to put in api_key_hashes
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
