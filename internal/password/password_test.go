package password

import (
	"errors"
	"strings"
	"testing"
)

// testConfig keeps argon2 work low so the suite stays fast.
func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	verifier, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(verifier, "$argon2id$") {
		t.Fatalf("verifier %q is not PHC argon2id", verifier)
	}

	ok, upgrade, err := h.Verify("correct horse battery", verifier)
	if err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v, %v", ok, upgrade, err)
	}
	if upgrade {
		t.Fatal("modern verifier flagged for upgrade")
	}

	ok, _, err = h.Verify("wrong password!", verifier)
	if err != nil {
		t.Fatalf("Verify(wrong): %v", err)
	}
	if ok {
		t.Fatal("wrong password accepted")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h := newTestHasher(t)
	if _, err := h.Hash("short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("Hash(short) error = %v, want ErrPasswordPolicy", err)
	}
}

func TestHashSalted(t *testing.T) {
	h := newTestHasher(t)
	a, _ := h.Hash("correct horse battery")
	b, _ := h.Hash("correct horse battery")
	if a == b {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestVerifyLegacyFlagsUpgrade(t *testing.T) {
	h := newTestHasher(t)
	verifier := LegacyVerifier("correct horse battery")

	ok, upgrade, err := h.Verify("correct horse battery", verifier)
	if err != nil || !ok {
		t.Fatalf("Verify(legacy correct) = %v, %v, %v", ok, upgrade, err)
	}
	if !upgrade {
		t.Fatal("matching legacy verifier not flagged for upgrade")
	}

	ok, upgrade, err = h.Verify("wrong password!", verifier)
	if err != nil {
		t.Fatalf("Verify(legacy wrong): %v", err)
	}
	if ok || upgrade {
		t.Fatal("mismatching legacy verifier must neither match nor upgrade")
	}
}

func TestVerifyUnknownFormat(t *testing.T) {
	h := newTestHasher(t)
	for _, v := range []string{"", "plaintext", "md5:abcdef", "sha256:not-hex", "$argon2i$v=19$m=8,t=1,p=1$AAAA$BBBB"} {
		if ok, _, err := h.Verify("anything at all", v); ok || !errors.Is(err, ErrUnknownVerifier) {
			t.Fatalf("Verify(%q) = %v, %v; want ErrUnknownVerifier", v, ok, err)
		}
	}
}

func TestVerifyMalformedPHC(t *testing.T) {
	h := newTestHasher(t)
	for _, v := range []string{
		"$argon2id$v=19$m=8,t=1,p=1$AAAA",          // missing hash part
		"$argon2id$v=18$m=8,t=1,p=1$AAAA$BBBB",     // wrong version
		"$argon2id$v=19$m=8,t=1$AAAA$BBBB",         // missing p
		"$argon2id$v=19$m=8,t=1,p=1$notb64!$BBBB",  // bad salt
		"$argon2id$v=19$m=8,t=1,p=1,x=2$AAAA$BBBB", // unknown parameter
	} {
		if ok, _, err := h.Verify("anything at all", v); ok || err == nil {
			t.Fatalf("Verify(%q) = %v, %v; want parse error", v, ok, err)
		}
	}
}

func TestNewHasherRejectsWeakParameters(t *testing.T) {
	weak := testConfig()
	weak.Memory = 1024
	if _, err := NewHasher(weak); err == nil {
		t.Fatal("hasher accepted sub-minimum memory")
	}

	weak = testConfig()
	weak.SaltLength = 8
	if _, err := NewHasher(weak); err == nil {
		t.Fatal("hasher accepted short salt")
	}
}
