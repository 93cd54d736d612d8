package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fernshop/admingate/internal/model"
	"github.com/fernshop/admingate/internal/staff"
)

// StaffHandler serves /admin/users, gated by MANAGE_USERS.
type StaffHandler struct {
	service *staff.Service
}

// NewStaffHandler creates a StaffHandler.
func NewStaffHandler(service *staff.Service) *StaffHandler {
	return &StaffHandler{service: service}
}

// userView is the public shape of an identity. Verifiers and challenge
// secrets never leave the store layer.
type userView struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	Role             string     `json:"role"`
	Active           bool       `json:"active"`
	ChallengeEnabled bool       `json:"challengeEnabled"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func viewOf(u model.AdminUser) userView {
	return userView{
		ID:               u.ID.String(),
		Email:            u.Email,
		Name:             u.Name,
		Role:             u.Role,
		Active:           u.Active,
		ChallengeEnabled: u.ChallengeEnabled,
		LastLoginAt:      u.LastLoginAt,
		CreatedAt:        u.CreatedAt,
	}
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	return id, err == nil
}

func actorID(r *http.Request) (uuid.UUID, bool) {
	desc, ok := DescriptorFrom(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(desc.UserID)
	return id, err == nil
}

// List handles GET /admin/users.
func (h *StaffHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		mapDomainError(w, err)
		return
	}
	views := make([]userView, len(users))
	for i, u := range users {
		views[i] = viewOf(u)
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views})
}

// Create handles POST /admin/users.
func (h *StaffHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	user, err := h.service.Create(r.Context(), staff.CreateInput(req))
	if err != nil {
		mapDomainError(w, err)
		return
	}
	if note := NoteFrom(r.Context()); note != nil {
		note.TargetID = user.ID.String()
		note.Detail = map[string]string{"email": user.Email, "role": user.Role}
	}
	writeJSON(w, http.StatusCreated, viewOf(user))
}

// Update handles PUT /admin/users/{id}.
func (h *StaffHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed user id")
		return
	}
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Name   *string `json:"name"`
		Role   *string `json:"role"`
		Active *bool   `json:"active"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	user, err := h.service.Update(r.Context(), actor, id, staff.UpdateInput(req))
	if err != nil {
		mapDomainError(w, err)
		return
	}
	if note := NoteFrom(r.Context()); note != nil {
		note.TargetID = user.ID.String()
		note.Detail = map[string]string{"role": user.Role}
	}
	writeJSON(w, http.StatusOK, viewOf(user))
}

// Deactivate handles DELETE /admin/users/{id}. Identities are never
// removed, only switched off.
func (h *StaffHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed user id")
		return
	}
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.service.Deactivate(r.Context(), actor, id); err != nil {
		mapDomainError(w, err)
		return
	}
	if note := NoteFrom(r.Context()); note != nil {
		note.TargetID = id.String()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ResetBackupCodes handles POST /admin/users/{id}/backup-codes. The fresh
// plaintext codes appear in this response and nowhere else.
func (h *StaffHandler) ResetBackupCodes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed user id")
		return
	}

	codes, err := h.service.ResetBackupCodes(r.Context(), id)
	if err != nil {
		mapDomainError(w, err)
		return
	}
	if note := NoteFrom(r.Context()); note != nil {
		note.TargetID = id.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"backupCodes": codes})
}
