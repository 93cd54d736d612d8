// Package totp implements the time-based one-time challenge (RFC 6238,
// SHA-1, 6 digits, 30-second step) used as the second authentication
// factor.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
)

const (
	secretBytes = 20
	period      = 30
	digits      = 6
	// skew accepts one step either side of now to absorb clock drift.
	skew = 1
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh base32-encoded challenge secret.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// enrollment URI for an authenticator
// app.
func ProvisionURI(issuer, account, secretBase32 string) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", fmt.Sprintf("%d", period))
	v.Set("digits", fmt.Sprintf("%d", digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Normalize strips spaces from a submitted code and reports whether it is
// a well-formed 6-digit value.
func Normalize(code string) (string, bool) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if len(trimmed) != digits {
		return "", false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return trimmed, true
}

// Verify checks a code against the secret for the current step and one
// adjacent step either side. Comparison is constant time.
func Verify(secretBase32, code string, nowUnix int64) bool {
	normalized, ok := Normalize(code)
	if !ok {
		return false
	}
	secret, err := b32.DecodeString(strings.ToUpper(strings.TrimSpace(secretBase32)))
	if err != nil || len(secret) == 0 {
		return false
	}

	base := nowUnix / period
	for step := int64(-skew); step <= skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(secret, counter)), []byte(normalized)) == 1 {
			return true
		}
	}
	return false
}

// CodeAt computes the code for an explicit instant. Tests use it to submit
// valid codes without sharing internals.
func CodeAt(secretBase32 string, nowUnix int64) (string, error) {
	secret, err := b32.DecodeString(strings.ToUpper(strings.TrimSpace(secretBase32)))
	if err != nil {
		return "", err
	}
	return hotp(secret, nowUnix/period), nil
}

func hotp(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%06d", bin%1000000)
}
