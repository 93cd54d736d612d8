// Package staff manages admin identities: creation, role changes,
// soft-deletion, and backup-code regeneration. It owns the sole-owner
// protection rule: the last active holder of the highest role can neither
// be deactivated nor demoted, by anyone.
package staff

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fernshop/admingate/internal/authz"
	"github.com/fernshop/admingate/internal/model"
	"github.com/fernshop/admingate/internal/password"
	"github.com/fernshop/admingate/internal/session"
)

var (
	// ErrSelfChange forbids changing one's own role or active flag.
	ErrSelfChange = errors.New("cannot change own role or active state")
	// ErrSoleOwner protects the last active website_admin.
	ErrSoleOwner = errors.New("cannot demote or deactivate the sole website admin")
	// ErrInvalidInput covers field-level validation failures; the message
	// is safe to disclose.
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the persistence contract.
type Store interface {
	List(ctx context.Context) ([]model.AdminUser, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.AdminUser, error)
	Create(ctx context.Context, u model.AdminUser) (model.AdminUser, error)
	Update(ctx context.Context, u model.AdminUser) (model.AdminUser, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	CountActiveByRole(ctx context.Context, role string) (int, error)
	ReplaceBackupCodes(ctx context.Context, userID uuid.UUID, codeHashes []string) error
}

// Service implements the admin user operations behind MANAGE_USERS.
type Service struct {
	store  Store
	hasher *password.Hasher
	now    func() time.Time
}

// New creates a Service.
func New(store Store, hasher *password.Hasher) *Service {
	return &Service{store: store, hasher: hasher, now: time.Now}
}

// List returns all identities.
func (s *Service) List(ctx context.Context) ([]model.AdminUser, error) {
	return s.store.List(ctx)
}

// CreateInput describes a new identity.
type CreateInput struct {
	Email    string
	Name     string
	Password string
	Role     string
}

// Create validates and inserts a new identity with a modern verifier.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.AdminUser, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return model.AdminUser{}, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if !authz.Role(in.Role).Valid() {
		return model.AdminUser{}, fmt.Errorf("%w: unknown role", ErrInvalidInput)
	}

	verifier, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordPolicy) {
			return model.AdminUser{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
		}
		return model.AdminUser{}, err
	}

	now := s.now().UTC()
	return s.store.Create(ctx, model.AdminUser{
		ID:               uuid.New(),
		Email:            email,
		Name:             strings.TrimSpace(in.Name),
		PasswordVerifier: verifier,
		Role:             in.Role,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

// UpdateInput carries the mutable fields. Nil pointers leave a field
// unchanged.
type UpdateInput struct {
	Name   *string
	Role   *string
	Active *bool
}

// Update applies profile changes under the self-change and sole-owner
// rules.
func (s *Service) Update(ctx context.Context, actorID, targetID uuid.UUID, in UpdateInput) (model.AdminUser, error) {
	target, err := s.store.GetByID(ctx, targetID)
	if err != nil {
		return model.AdminUser{}, err
	}

	demoting := in.Role != nil && *in.Role != target.Role
	deactivating := in.Active != nil && !*in.Active && target.Active

	if actorID == targetID && (demoting || deactivating) {
		return model.AdminUser{}, ErrSelfChange
	}
	if demoting && !authz.Role(*in.Role).Valid() {
		return model.AdminUser{}, fmt.Errorf("%w: unknown role", ErrInvalidInput)
	}
	if (demoting || deactivating) && target.Role == string(authz.RoleWebsiteAdmin) && target.Active {
		if err := s.requireNotSoleOwner(ctx); err != nil {
			return model.AdminUser{}, err
		}
	}

	if in.Name != nil {
		target.Name = strings.TrimSpace(*in.Name)
	}
	if in.Role != nil {
		target.Role = *in.Role
	}
	if in.Active != nil {
		target.Active = *in.Active
	}
	return s.store.Update(ctx, target)
}

// Deactivate soft-deletes an identity under the same rules as Update.
func (s *Service) Deactivate(ctx context.Context, actorID, targetID uuid.UUID) error {
	if actorID == targetID {
		return ErrSelfChange
	}
	target, err := s.store.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if !target.Active {
		return nil
	}
	if target.Role == string(authz.RoleWebsiteAdmin) {
		if err := s.requireNotSoleOwner(ctx); err != nil {
			return err
		}
	}
	return s.store.SetActive(ctx, targetID, false)
}

func (s *Service) requireNotSoleOwner(ctx context.Context) error {
	n, err := s.store.CountActiveByRole(ctx, string(authz.RoleWebsiteAdmin))
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrSoleOwner
	}
	return nil
}

// ResetBackupCodes replaces the target's backup-code set and returns the
// plaintext codes exactly once.
func (s *Service) ResetBackupCodes(ctx context.Context, targetID uuid.UUID) ([]string, error) {
	if _, err := s.store.GetByID(ctx, targetID); err != nil {
		return nil, err
	}

	codes, err := session.GenerateBackupCodes(10)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = session.HashBackupCode(c)
	}
	if err := s.store.ReplaceBackupCodes(ctx, targetID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}
