// Package pii applies field-level at-rest encryption to the designated
// sensitive fields of the order entity: phone and shipping address. The
// envelope is transparent to callers; repositories call Seal on the way in
// and Open on the way out, and the entity shape never changes.
package pii

import (
	"encoding/json"

	"github.com/fernshop/admingate/internal/crypto"
	"github.com/fernshop/admingate/internal/model"
)

// Envelope wraps the AEAD cipher with the order-field serialisation rules.
type Envelope struct {
	cipher *crypto.Cipher
}

// New creates an Envelope. A disabled cipher makes every operation an
// identity, which keeps pre-encryption deployments working.
func New(c *crypto.Cipher) *Envelope {
	return &Envelope{cipher: c}
}

// SealPhone encrypts a phone value for storage.
func (e *Envelope) SealPhone(phone string) string {
	if phone == "" {
		return ""
	}
	return e.cipher.Encrypt(phone)
}

// OpenPhone decrypts a stored phone value. Legacy plaintext rows come back
// unchanged.
func (e *Envelope) OpenPhone(stored string) string {
	if stored == "" {
		return ""
	}
	return e.cipher.Decrypt(stored)
}

// SealAddress serialises the structured address to canonical JSON and
// encrypts it.
func (e *Envelope) SealAddress(addr model.Address) (string, error) {
	canonical, err := json.Marshal(addr)
	if err != nil {
		return "", err
	}
	return e.cipher.Encrypt(string(canonical)), nil
}

// OpenAddress decrypts and re-inflates a stored address. Values that fail
// decryption or do not parse yield a zero address rather than an error;
// the admin surface degrades to blank fields instead of refusing the row.
func (e *Envelope) OpenAddress(stored string) model.Address {
	if stored == "" {
		return model.Address{}
	}
	var addr model.Address
	if err := json.Unmarshal([]byte(e.cipher.Decrypt(stored)), &addr); err != nil {
		return model.Address{}
	}
	return addr
}
