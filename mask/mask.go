// Package mask implements PII-safe masking of rate-limit keys and a
// sensitive-config filter for log output.
package mask

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"
)

// Masker produces a deterministic, non-invertible display form of a raw
// bucket key, keyed by a salt generated once at process start. The digest is
// drawn from a pool so hot-path masking doesn't allocate a new hasher per
// call.
type Masker struct {
	salt []byte
	pool sync.Pool
}

// New creates a Masker with the given salt. If salt is nil, a random 32-byte
// salt is generated and kept for the process lifetime.
func New(salt []byte) (*Masker, error) {
	if salt == nil {
		salt = make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	}
	m := &Masker{salt: salt}
	m.pool.New = func() any { return sha256.New() }
	return m, nil
}

// Mask returns "sha256:<first8>...<last4>" of SHA-256(salt || key). The
// result is deterministic for the lifetime of the Masker and not invertible
// without the salt.
func (m *Masker) Mask(key string) string {
	h := m.pool.Get().(interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
		Reset()
	})
	defer func() {
		h.Reset()
		m.pool.Put(h)
	}()

	h.Write(m.salt)
	h.Write([]byte(key))
	sum := hex.EncodeToString(h.Sum(nil))

	if len(sum) < 12 {
		return "sha256:" + sum
	}
	return "sha256:" + sum[:8] + "..." + sum[len(sum)-4:]
}

var sensitiveKeyPattern = regexp.MustCompile(`(?i)password|secret|token|key|credential|apikey|auth`)

const redactedValue = "***REDACTED***"

// FilterSensitiveConfig recursively walks a configuration value tree
// (maps, slices, and scalars as produced by decoding YAML/JSON) and replaces
// any map value whose key matches the sensitive pattern with a fixed mask.
// The input is not mutated; a filtered copy is returned.
func FilterSensitiveConfig(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if sensitiveKeyPattern.MatchString(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = FilterSensitiveConfig(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = FilterSensitiveConfig(val)
		}
		return out
	default:
		return v
	}
}
