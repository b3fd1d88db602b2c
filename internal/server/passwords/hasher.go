// Package passwords hashes passwords with Argon2id and scores their strength.
package passwords

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/dmitrijs2005/turbocore/internal/common"
)

// ErrMalformedHash means a stored hash could not be parsed. It is a corrupt
// record, not a wrong password.
var ErrMalformedHash = errors.New("malformed password hash")

// maxCostFactor bounds how far the cost stored in a hash may exceed the
// configured one before Verify refuses to run it.
const maxCostFactor = 16

// Params are the Argon2id cost parameters. Memory is in KiB.
type Params struct {
	SaltLength  uint32
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	TagLength   uint32
}

// Hasher produces and verifies PHC-encoded Argon2id hashes.
type Hasher struct {
	params Params
}

func NewHasher(p Params) *Hasher {
	return &Hasher{params: p}
}

// Hash returns $argon2id$v=19$m=..,t=..,p=..$salt$tag with a fresh salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt, err := common.GenerateRandByteArray(int(h.params.SaltLength))
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	p := h.params
	tag := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.TagLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(tag),
	), nil
}

// Verify reports whether password matches encoded. The parameters stored in
// encoded are used, so hashes survive cost changes. A corrupt hash returns
// ErrMalformedHash, as does one whose memory, iterations or lanes exceed
// maxCostFactor times the configured value.
func (h *Hasher) Verify(encoded, password string) (bool, error) {
	p, salt, tag, err := decode(encoded)
	if err != nil {
		return false, err
	}
	if !h.affordable(p) {
		return false, ErrMalformedHash
	}

	other := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(tag)))
	return subtle.ConstantTimeCompare(tag, other) == 1, nil
}

func (h *Hasher) affordable(p Params) bool {
	return uint64(p.Memory) <= maxCostFactor*uint64(h.params.Memory) &&
		uint64(p.Iterations) <= maxCostFactor*uint64(h.params.Iterations) &&
		uint64(p.Parallelism) <= maxCostFactor*uint64(h.params.Parallelism)
}

func decode(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, ErrMalformedHash
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, ErrMalformedHash
	}
	tag, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(tag) == 0 {
		return p, nil, nil, ErrMalformedHash
	}

	p.SaltLength = uint32(len(salt))
	p.TagLength = uint32(len(tag))
	return p, salt, tag, nil
}
