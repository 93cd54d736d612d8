// Package cookies maps token-service results onto the transport cookie
// triple and enforces the double-submit anti-forgery binding.
package cookies

import (
	"crypto/subtle"
	"net/http"
	"time"
)

// Cookie and header names are part of the wire contract; an unchanged
// client depends on these exact strings.
const (
	AccessName  = "fs_access_token"
	RefreshName = "fs_refresh_token"
	CSRFName    = "fs_csrf_token"
	CSRFHeader  = "x-csrf-token"
)

// Binder writes and reads the cookie triple. Secure is dropped only in the
// local-development profile.
type Binder struct {
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewBinder creates a Binder. accessTTL also bounds the anti-forgery
// cookie, which is rotated together with the access token.
func NewBinder(secure bool, accessTTL, refreshTTL time.Duration) *Binder {
	return &Binder{secure: secure, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (b *Binder) set(w http.ResponseWriter, name, value string, ttl time.Duration, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: httpOnly,
		Secure:   b.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// WriteSession emits the full triple: HttpOnly access and refresh cookies
// plus the script-readable anti-forgery cookie.
func (b *Binder) WriteSession(w http.ResponseWriter, access, refresh, csrf string) {
	b.set(w, AccessName, access, b.accessTTL, true)
	b.set(w, RefreshName, refresh, b.refreshTTL, true)
	b.set(w, CSRFName, csrf, b.accessTTL, false)
}

// WriteAccess reissues the access and anti-forgery cookies only, leaving
// the refresh cookie untouched. Used by the refresh endpoint.
func (b *Binder) WriteAccess(w http.ResponseWriter, access, csrf string) {
	b.set(w, AccessName, access, b.accessTTL, true)
	b.set(w, CSRFName, csrf, b.accessTTL, false)
}

// Clear emits the triple with zero max-age, expiring all three on the
// client.
func (b *Binder) Clear(w http.ResponseWriter) {
	for _, c := range []struct {
		name     string
		httpOnly bool
	}{
		{AccessName, true},
		{RefreshName, true},
		{CSRFName, false},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: c.httpOnly,
			Secure:   b.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

// ReadRefresh returns the refresh cookie value, if present.
func ReadRefresh(r *http.Request) (string, bool) {
	c, err := r.Cookie(RefreshName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// CSRFValid reports whether the dedicated header equals the anti-forgery
// cookie. Callers skip the check for idempotent reads; for everything else
// a missing cookie or header fails the binding.
func CSRFValid(r *http.Request) bool {
	c, err := r.Cookie(CSRFName)
	if err != nil || c.Value == "" {
		return false
	}
	header := r.Header.Get(CSRFHeader)
	if header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(header)) == 1
}

// IdempotentMethod reports whether the request method is an idempotent
// read, which is exempt from the anti-forgery binding.
func IdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
