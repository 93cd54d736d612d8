package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

// CodeAlphabet is the character set for human-entered codes. Visually
// ambiguous characters (O/0, I/1) are excluded.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomCode draws length characters from alphabet using a
// cryptographically secure source.
func RandomCode(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// RandomToken returns 2n hex characters from n random bytes. The CSRF
// binding uses n=32 for a 64-character value.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
