// Package password verifies and produces admin password verifiers.
//
// Two verifier formats are supported, distinguished by an explicit prefix
// marker rather than by shape or length: the legacy unsalted hex digest
// ("sha256:<hex>") and the modern PHC argon2id string ("$argon2id$...").
// A successful verification against a legacy verifier is flagged for a
// one-way upgrade in place.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	legacyPrefix = "sha256:"
	algorithmID  = "argon2id"

	minPasswordBytes = 10
)

var (
	// ErrPasswordPolicy is returned by Hash for passwords below the
	// minimum length.
	ErrPasswordPolicy = errors.New("password must be at least 10 bytes")
	// ErrUnknownVerifier is returned when a stored verifier matches
	// neither supported format.
	ErrUnknownVerifier = errors.New("unknown password verifier format")
)

// Config holds the argon2id parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the production argon2id parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies passwords. Instances are immutable after
// construction.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Memory < 8*1024 || cfg.Time < 1 || cfg.Parallelism < 1 {
		return nil, errors.New("argon2 parameters below minimum")
	}
	if cfg.SaltLength < 16 || cfg.KeyLength < 16 {
		return nil, errors.New("argon2 salt or key length below minimum")
	}
	return &Hasher{config: cfg}, nil
}

// Hash produces a PHC argon2id verifier for a new password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPasswordBytes {
		return "", ErrPasswordPolicy
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.config.Time, h.config.Memory, h.config.Parallelism, h.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify checks a candidate password against a stored verifier. The second
// result reports whether the verifier is in the legacy format and should be
// re-hashed now that the plaintext is known to match.
func (h *Hasher) Verify(password, verifier string) (ok bool, needsUpgrade bool, err error) {
	switch {
	case strings.HasPrefix(verifier, legacyPrefix):
		digest := sha256.Sum256([]byte(password))
		stored, decErr := hex.DecodeString(strings.TrimPrefix(verifier, legacyPrefix))
		if decErr != nil {
			return false, false, ErrUnknownVerifier
		}
		match := subtle.ConstantTimeCompare(digest[:], stored) == 1
		return match, match, nil

	case strings.HasPrefix(verifier, "$"+algorithmID+"$"):
		match, verr := h.verifyPHC(password, verifier)
		if verr != nil {
			return false, false, verr
		}
		return match, false, nil

	default:
		return false, false, ErrUnknownVerifier
	}
}

// LegacyVerifier produces a legacy-format verifier. Only tests and
// migration tooling should need this.
func LegacyVerifier(password string) string {
	digest := sha256.Sum256([]byte(password))
	return legacyPrefix + hex.EncodeToString(digest[:])
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func (h *Hasher) verifyPHC(password, verifier string) (bool, error) {
	parsed, err := parsePHC(verifier)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.hash)))
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

func parsePHC(verifier string) (*parsedPHC, error) {
	parts := strings.Split(verifier, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, errors.New("invalid PHC format")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var p parsedPHC
	for _, pair := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("invalid parameter format")
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, errors.New("invalid parameter value")
		}
		switch k {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.time = uint32(n)
		case "p":
			p.parallelism = uint8(n)
		default:
			return nil, errors.New("unknown parameter")
		}
	}
	if p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, errors.New("missing argon2 parameters")
	}

	if p.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) < 16 {
		return nil, errors.New("invalid salt")
	}
	if p.hash, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(p.hash) == 0 {
		return nil, errors.New("invalid hash")
	}

	return &p, nil
}
