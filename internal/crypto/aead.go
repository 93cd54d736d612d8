// Package crypto provides the primitives shared by the PII envelope, the
// webhook verification contract, and gift-card code generation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/fernshop/admingate/internal/logger"
)

const (
	keyLength   = 32
	nonceLength = 12
	tagLength   = 16
	partSep     = ":"
)

// Cipher performs authenticated field encryption. Envelopes are the
// textual triple base64(nonce):base64(tag):base64(ciphertext) so they can
// traverse any string column unchanged.
//
// When the key is absent or the wrong length, Encrypt and Decrypt degrade
// to identity and a warning is logged once. Decrypt of a value that does
// not match the three-part format also returns the value unchanged, which
// keeps rows written before encryption was enabled readable.
type Cipher struct {
	aead cipher.AEAD
	log  *logger.Logger
	warn sync.Once
}

// NewCipher creates a Cipher from a raw 256-bit key. A nil or wrong-length
// key yields a disabled cipher rather than an error; the operator must
// observe the warning and migrate.
func NewCipher(key []byte, log *logger.Logger) *Cipher {
	c := &Cipher{log: log}
	if len(key) != keyLength {
		return c
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return c
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return c
	}
	c.aead = aead
	return c
}

// Enabled reports whether a usable key was configured.
func (c *Cipher) Enabled() bool {
	return c != nil && c.aead != nil
}

func (c *Cipher) warnDisabled() {
	c.warn.Do(func() {
		if c.log != nil {
			c.log.Warn("field encryption key missing or invalid, storing values unencrypted")
		}
	})
}

// Encrypt seals plaintext into an envelope.
func (c *Cipher) Encrypt(plaintext string) string {
	if !c.Enabled() {
		c.warnDisabled()
		return plaintext
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return plaintext
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	enc := base64.StdEncoding
	return enc.EncodeToString(nonce) + partSep + enc.EncodeToString(tag) + partSep + enc.EncodeToString(ct)
}

// Decrypt opens an envelope. Values that are not a well-formed envelope,
// and envelopes that fail authentication, are returned unchanged.
func (c *Cipher) Decrypt(value string) string {
	if !c.Enabled() {
		c.warnDisabled()
		return value
	}

	parts := strings.Split(value, partSep)
	if len(parts) != 3 {
		return value
	}
	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceLength {
		return value
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != tagLength {
		return value
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return value
	}

	plaintext, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return value
	}
	return string(plaintext)
}
