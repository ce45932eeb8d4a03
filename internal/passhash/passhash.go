// Package passhash hashes and verifies passwords with Argon2id. Hashes are
// emitted in the PHC string format, so the parameters and salt travel with
// the digest and can be tightened later without invalidating stored records.
package passhash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/snasd/snas/internal/common"
)

const saltLen = 16

// Params are the Argon2id cost parameters baked into new hashes.
type Params struct {
	Memory  uint32
	Time    uint32
	Threads uint8
	KeyLen  uint32
}

// DefaultParams targets tens of milliseconds per hash on commodity hardware,
// appropriate for interactive authentication.
func DefaultParams() Params {
	return Params{
		Memory:  64 * 1024,
		Time:    1,
		Threads: 4,
		KeyLen:  32,
	}
}

// Hasher produces and verifies opaque password hashes.
type Hasher struct {
	params Params
}

func New(p Params) *Hasher {
	return &Hasher{params: p}
}

// Hash derives a hash of the plaintext under a fresh random salt and returns
// it in encoded form. Fails only if the system RNG fails.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	digest := argon2.IDKey([]byte(plaintext), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// Verify recomputes the digest of plaintext under the parameters and salt
// stored in encoded and compares in constant time. A stored hash that does
// not parse yields common.ErrCorruptRecord.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	params, salt, digest, err := parse(encoded)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(plaintext), salt, params.Time, params.Memory, params.Threads, uint32(len(digest)))
	return subtle.ConstantTimeCompare(candidate, digest) == 1, nil
}

func parse(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return Params{}, nil, nil, fmt.Errorf("%w: malformed password hash", common.ErrCorruptRecord)
	}
	if parts[1] != "argon2id" {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported hash algorithm %q", common.ErrCorruptRecord, parts[1])
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: malformed hash version", common.ErrCorruptRecord)
	}
	if version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported hash version %d", common.ErrCorruptRecord, version)
	}
	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: malformed hash parameters", common.ErrCorruptRecord)
	}
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: zero hash parameter", common.ErrCorruptRecord)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: malformed hash salt", common.ErrCorruptRecord)
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(digest) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: malformed hash digest", common.ErrCorruptRecord)
	}
	return p, salt, digest, nil
}
