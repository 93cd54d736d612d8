package staff

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/fernshop/admingate/internal/model"
	"github.com/fernshop/admingate/internal/password"
)

type memoryStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]model.AdminUser
	codes map[uuid.UUID][]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users: make(map[uuid.UUID]model.AdminUser),
		codes: make(map[uuid.UUID][]string),
	}
}

func (s *memoryStore) List(_ context.Context) ([]model.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AdminUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *memoryStore) GetByID(_ context.Context, id uuid.UUID) (model.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.AdminUser{}, model.ErrNotFound
	}
	return u, nil
}

func (s *memoryStore) Create(_ context.Context, u model.AdminUser) (model.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return model.AdminUser{}, model.ErrDuplicateEmail
		}
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *memoryStore) Update(_ context.Context, u model.AdminUser) (model.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return model.AdminUser{}, model.ErrNotFound
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *memoryStore) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.ErrNotFound
	}
	u.Active = active
	s.users[id] = u
	return nil
}

func (s *memoryStore) CountActiveByRole(_ context.Context, role string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.users {
		if u.Active && u.Role == role {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) ReplaceBackupCodes(_ context.Context, userID uuid.UUID, codeHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[userID] = codeHashes
	return nil
}

func newService(t *testing.T) (*Service, *memoryStore) {
	t.Helper()
	hasher, err := password.NewHasher(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	store := newMemoryStore()
	return New(store, hasher), store
}

func seedAdmin(t *testing.T, store *memoryStore, email, role string, active bool) model.AdminUser {
	t.Helper()
	u := model.AdminUser{
		ID:     uuid.New(),
		Email:  email,
		Name:   "Seeded",
		Role:   role,
		Active: active,
	}
	if _, err := store.Create(context.Background(), u); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return u
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestCreate(t *testing.T) {
	svc, store := newService(t)

	created, err := svc.Create(context.Background(), CreateInput{
		Email:    "  New.Admin@Fernshop.CO.UK ",
		Name:     "  New Admin ",
		Password: "a long enough password",
		Role:     "business_processing",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Email != "new.admin@fernshop.co.uk" {
		t.Fatalf("email = %q", created.Email)
	}
	if created.Name != "New Admin" {
		t.Fatalf("name = %q", created.Name)
	}
	if !created.Active {
		t.Fatal("new identity not active")
	}
	if !strings.HasPrefix(created.PasswordVerifier, "$argon2id$") {
		t.Fatalf("verifier = %q", created.PasswordVerifier)
	}
	if created.ChallengeEnabled {
		t.Fatal("new identity born with a challenge")
	}

	stored, err := store.GetByID(context.Background(), created.ID)
	if err != nil || stored.Email != created.Email {
		t.Fatalf("stored = %+v, err = %v", stored, err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t)

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"malformed email", CreateInput{Email: "not-an-email", Name: "X", Password: "a long enough password", Role: "customer"}},
		{"empty email", CreateInput{Email: "", Name: "X", Password: "a long enough password", Role: "customer"}},
		{"unknown role", CreateInput{Email: "x@fernshop.co.uk", Name: "X", Password: "a long enough password", Role: "superuser"}},
		{"short password", CreateInput{Email: "x@fernshop.co.uk", Name: "X", Password: "short", Role: "customer"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	svc, store := newService(t)
	seedAdmin(t, store, "taken@fernshop.co.uk", "customer", true)

	_, err := svc.Create(context.Background(), CreateInput{
		Email:    "Taken@fernshop.co.uk",
		Name:     "X",
		Password: "a long enough password",
		Role:     "customer",
	})
	if !errors.Is(err, model.ErrDuplicateEmail) {
		t.Fatalf("error = %v, want ErrDuplicateEmail", err)
	}
}

func TestUpdateSelfChange(t *testing.T) {
	svc, store := newService(t)
	admin := seedAdmin(t, store, "owner@fernshop.co.uk", "website_admin", true)
	seedAdmin(t, store, "second@fernshop.co.uk", "website_admin", true)

	// Demoting or deactivating yourself is refused even when a second
	// owner exists.
	if _, err := svc.Update(context.Background(), admin.ID, admin.ID, UpdateInput{Role: strPtr("customer")}); !errors.Is(err, ErrSelfChange) {
		t.Fatalf("self demotion error = %v", err)
	}
	if _, err := svc.Update(context.Background(), admin.ID, admin.ID, UpdateInput{Active: boolPtr(false)}); !errors.Is(err, ErrSelfChange) {
		t.Fatalf("self deactivation error = %v", err)
	}

	// Renaming yourself is fine.
	updated, err := svc.Update(context.Background(), admin.ID, admin.ID, UpdateInput{Name: strPtr("Renamed")})
	if err != nil {
		t.Fatalf("self rename: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Fatalf("name = %q", updated.Name)
	}
}

func TestUpdateSoleOwnerProtected(t *testing.T) {
	svc, store := newService(t)
	owner := seedAdmin(t, store, "owner@fernshop.co.uk", "website_admin", true)
	actor := seedAdmin(t, store, "ops@fernshop.co.uk", "website_admin", false) // inactive, does not count

	if _, err := svc.Update(context.Background(), actor.ID, owner.ID, UpdateInput{Role: strPtr("customer")}); !errors.Is(err, ErrSoleOwner) {
		t.Fatalf("sole-owner demotion error = %v", err)
	}
	if _, err := svc.Update(context.Background(), actor.ID, owner.ID, UpdateInput{Active: boolPtr(false)}); !errors.Is(err, ErrSoleOwner) {
		t.Fatalf("sole-owner deactivation error = %v", err)
	}

	// With a second active owner the same changes go through.
	store.SetActive(context.Background(), actor.ID, true)
	if _, err := svc.Update(context.Background(), actor.ID, owner.ID, UpdateInput{Role: strPtr("customer")}); err != nil {
		t.Fatalf("demotion with backup owner: %v", err)
	}
}

func TestUpdateUnknownRole(t *testing.T) {
	svc, store := newService(t)
	actor := seedAdmin(t, store, "owner@fernshop.co.uk", "website_admin", true)
	target := seedAdmin(t, store, "staff@fernshop.co.uk", "customer", true)

	if _, err := svc.Update(context.Background(), actor.ID, target.ID, UpdateInput{Role: strPtr("root")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}

func TestUpdateUnknownTarget(t *testing.T) {
	svc, store := newService(t)
	actor := seedAdmin(t, store, "owner@fernshop.co.uk", "website_admin", true)

	if _, err := svc.Update(context.Background(), actor.ID, uuid.New(), UpdateInput{Name: strPtr("X")}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDeactivate(t *testing.T) {
	svc, store := newService(t)
	actor := seedAdmin(t, store, "owner@fernshop.co.uk", "website_admin", true)
	target := seedAdmin(t, store, "staff@fernshop.co.uk", "business_processing", true)

	if err := svc.Deactivate(context.Background(), actor.ID, target.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	stored, _ := store.GetByID(context.Background(), target.ID)
	if stored.Active {
		t.Fatal("target still active")
	}

	// Deactivating an already-inactive identity is a no-op.
	if err := svc.Deactivate(context.Background(), actor.ID, target.ID); err != nil {
		t.Fatalf("repeat Deactivate: %v", err)
	}
}

func TestDeactivateSelf(t *testing.T) {
	svc, store := newService(t)
	actor := seedAdmin(t, store, "owner@fernshop.co.uk", "website_admin", true)

	if err := svc.Deactivate(context.Background(), actor.ID, actor.ID); !errors.Is(err, ErrSelfChange) {
		t.Fatalf("error = %v, want ErrSelfChange", err)
	}
}

func TestDeactivateSoleOwner(t *testing.T) {
	svc, store := newService(t)
	owner := seedAdmin(t, store, "owner@fernshop.co.uk", "website_admin", true)
	actor := seedAdmin(t, store, "ops@fernshop.co.uk", "business_processing", true)

	if err := svc.Deactivate(context.Background(), actor.ID, owner.ID); !errors.Is(err, ErrSoleOwner) {
		t.Fatalf("error = %v, want ErrSoleOwner", err)
	}

	seedAdmin(t, store, "second@fernshop.co.uk", "website_admin", true)
	if err := svc.Deactivate(context.Background(), actor.ID, owner.ID); err != nil {
		t.Fatalf("deactivation with backup owner: %v", err)
	}
}

func TestResetBackupCodes(t *testing.T) {
	svc, store := newService(t)
	target := seedAdmin(t, store, "staff@fernshop.co.uk", "business_processing", true)

	codes, err := svc.ResetBackupCodes(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("ResetBackupCodes: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("%d codes", len(codes))
	}
	hashes := store.codes[target.ID]
	if len(hashes) != 10 {
		t.Fatalf("%d stored hashes", len(hashes))
	}
	for _, h := range hashes {
		if len(h) != 64 {
			t.Fatalf("stored hash %q, want sha256 hex", h)
		}
		for _, c := range codes {
			if h == c {
				t.Fatal("plaintext code persisted")
			}
		}
	}

	if _, err := svc.ResetBackupCodes(context.Background(), uuid.New()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown target error = %v", err)
	}
}
