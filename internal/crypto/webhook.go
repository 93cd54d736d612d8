package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrBadSignature is returned when a webhook signature header is absent,
// stale, or does not match the request body.
var ErrBadSignature = errors.New("bad webhook signature")

// webhookTolerance bounds the accepted clock difference between the
// timestamp in the signature header and the server clock.
const webhookTolerance = 5 * time.Minute

// VerifyWebhook checks a provider signature header of the form
// "t=<unix>,v1=<hex>[,v1=<hex>...]" against the unparsed request body.
// The expected MAC is HMAC-SHA256(secret, timestamp + "." + body) and the
// comparison is constant time.
func VerifyWebhook(rawBody []byte, signatureHeader, secret string, now time.Time) error {
	if signatureHeader == "" || secret == "" {
		return ErrBadSignature
	}

	var ts int64
	var candidates [][]byte
	for _, pair := range strings.Split(signatureHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrBadSignature
			}
			ts = parsed
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			candidates = append(candidates, sig)
		}
	}
	if ts == 0 || len(candidates) == 0 {
		return ErrBadSignature
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > webhookTolerance || age < -webhookTolerance {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(candidate, expected) {
			return nil
		}
	}
	return ErrBadSignature
}
