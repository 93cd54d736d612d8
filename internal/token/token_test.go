package token

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(Config{
		Secret:          []byte("0123456789abcdef0123456789abcdef"),
		Issuer:          "fernshop-admin",
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      7 * 24 * time.Hour,
		PreChallengeTTL: 5 * time.Minute,
		SetupTTL:        10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	_, err := NewService(Config{
		Secret:          []byte("too short"),
		Issuer:          "x",
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Minute,
		PreChallengeTTL: time.Minute,
		SetupTTL:        time.Minute,
	})
	if err == nil {
		t.Fatal("short secret accepted")
	}
}

func TestIssueAndVerifyAccess(t *testing.T) {
	s := testService(t)

	raw, err := s.Issue(KindAccess, "user-1", "jo@fernshop.co.uk", "Jo", "website_admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	d, err := s.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if d.UserID != "user-1" || d.Email != "jo@fernshop.co.uk" || d.Name != "Jo" || d.Role != "website_admin" {
		t.Fatalf("descriptor = %+v", d)
	}
	if d.Kind != KindAccess {
		t.Fatalf("kind = %s", d.Kind)
	}
	ttl := d.ExpiresAt.Sub(d.IssuedAt)
	if ttl != 15*time.Minute {
		t.Fatalf("access ttl = %s, want 15m", ttl)
	}
}

func TestPreChallengeOmitsRole(t *testing.T) {
	s := testService(t)

	raw, err := s.Issue(KindPreChallenge, "user-1", "jo@fernshop.co.uk", "Jo", "website_admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	d, err := s.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if d.Role != "" || d.Name != "" {
		t.Fatalf("pre-challenge descriptor leaked role/name: %+v", d)
	}
	if ttl := d.ExpiresAt.Sub(d.IssuedAt); ttl != 5*time.Minute {
		t.Fatalf("pre-challenge ttl = %s, want 5m", ttl)
	}
}

func TestVerifyKindRejectsOtherKinds(t *testing.T) {
	s := testService(t)

	pre, _ := s.Issue(KindPreChallenge, "user-1", "jo@fernshop.co.uk", "", "")
	if _, err := s.VerifyKind(pre, KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("pre-challenge accepted as access: %v", err)
	}

	refresh, _ := s.Issue(KindRefresh, "user-1", "jo@fernshop.co.uk", "Jo", "website_admin")
	if _, err := s.VerifyKind(refresh, KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("refresh accepted as access: %v", err)
	}
	if _, err := s.VerifyKind(refresh, KindRefresh); err != nil {
		t.Fatalf("refresh rejected as refresh: %v", err)
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	s := testService(t)
	raw, _ := s.Issue(KindAccess, "user-1", "jo@fernshop.co.uk", "Jo", "website_admin")

	// Truncate the signature segment.
	i := strings.LastIndexByte(raw, '.')
	tampered := raw[:i+4]
	if _, err := s.Verify(tampered); !errors.Is(err, ErrBadToken) {
		t.Fatalf("tampered token error = %v, want ErrBadToken", err)
	}

	if _, err := s.Verify(""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("empty token error = %v, want ErrNoToken", err)
	}
	if _, err := s.Verify("not.a.jwt"); !errors.Is(err, ErrBadToken) {
		t.Fatalf("garbage token error = %v, want ErrBadToken", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	s := testService(t)
	other, err := NewService(Config{
		Secret:          []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:          "fernshop-admin",
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Minute,
		PreChallengeTTL: time.Minute,
		SetupTTL:        time.Minute,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	raw, _ := other.Issue(KindAccess, "user-1", "jo@fernshop.co.uk", "Jo", "website_admin")
	if _, err := s.Verify(raw); !errors.Is(err, ErrBadToken) {
		t.Fatalf("foreign-signed token error = %v, want ErrBadToken", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s, err := NewService(Config{
		Secret:          []byte("0123456789abcdef0123456789abcdef"),
		Issuer:          "fernshop-admin",
		AccessTTL:       time.Nanosecond,
		RefreshTTL:      time.Minute,
		PreChallengeTTL: time.Minute,
		SetupTTL:        time.Minute,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	raw, _ := s.Issue(KindAccess, "user-1", "jo@fernshop.co.uk", "Jo", "website_admin")
	time.Sleep(5 * time.Millisecond)
	if _, err := s.Verify(raw); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expired token error = %v, want ErrExpiredToken", err)
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/admin/users", nil)
	if _, ok := FromRequest(r, "fs_access_token"); ok {
		t.Fatal("credential found on bare request")
	}

	r.Header.Set("Authorization", "Bearer header-token")
	if raw, ok := FromRequest(r, "fs_access_token"); !ok || raw != "header-token" {
		t.Fatalf("bearer extraction = %q, %v", raw, ok)
	}

	r = httptest.NewRequest("GET", "/admin/users", nil)
	r.AddCookie(&http.Cookie{Name: "fs_access_token", Value: "cookie-token"})
	if raw, ok := FromRequest(r, "fs_access_token"); !ok || raw != "cookie-token" {
		t.Fatalf("cookie extraction = %q, %v", raw, ok)
	}

	// Header takes precedence when both are present.
	r.Header.Set("Authorization", "Bearer header-token")
	if raw, _ := FromRequest(r, "fs_access_token"); raw != "header-token" {
		t.Fatalf("precedence = %q, want header-token", raw)
	}
}
