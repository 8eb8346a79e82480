package handlers

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/user/linkup/internal/engine"
	"github.com/user/linkup/internal/types"
)

// ClerkUserPayload is the identity-provider webhook shape for user events.
type ClerkUserPayload struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	ImageURL string `json:"image_url"`
}

// Email returns the primary e-mail address, or "" if none was supplied.
func (p *ClerkUserPayload) Email() string {
	if len(p.EmailAddresses) == 0 {
		return ""
	}
	return p.EmailAddresses[0].EmailAddress
}

// FullName joins the name parts, tolerating either being empty.
func (p *ClerkUserPayload) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ValidateClerkUser checks the schema for user created/updated events:
// a missing id or e-mail aborts the triggering run only, not the engine.
func ValidateClerkUser(payload json.RawMessage) error {
	var p ClerkUserPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.Validationf("decode clerk user payload: %v", err)
	}
	if p.ID == "" {
		return types.Validationf("clerk user payload: missing id")
	}
	if p.Email() == "" {
		return types.Validationf("clerk user payload %s: missing email address", p.ID)
	}
	return nil
}

// ValidateClerkUserDeleted checks the schema for user deleted events, which
// only carry the id.
func ValidateClerkUserDeleted(payload json.RawMessage) error {
	var p ClerkUserPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.Validationf("decode clerk user payload: %v", err)
	}
	if p.ID == "" {
		return types.Validationf("clerk user payload: missing id")
	}
	return nil
}

// UserSync keeps the local user collection in step with identity-provider
// lifecycle events. All mutations are upserts/deletes because delivery is
// at least once.
type UserSync struct {
	users types.UserStore
}

// NewUserSync creates the user synchronization handlers.
func NewUserSync(users types.UserStore) *UserSync {
	return &UserSync{users: users}
}

// CreatedSteps upserts a new user, deriving a unique username from the
// e-mail local part.
func (h *UserSync) CreatedSteps() []engine.Step {
	return []engine.Step{
		{Name: "upsert-user", Fn: func(sc *engine.StepContext) (any, error) {
			var p ClerkUserPayload
			if err := sc.BindPayload(&p); err != nil {
				return nil, err
			}
			if p.ID == "" || p.Email() == "" {
				return nil, types.Validationf("user created %s: missing id or email", p.ID)
			}

			username, err := h.deriveUsername(sc, &p)
			if err != nil {
				return nil, err
			}

			user := &types.User{
				ID:             types.UserID(p.ID),
				Email:          p.Email(),
				FullName:       p.FullName(),
				Username:       username,
				ProfilePicture: p.ImageURL,
			}
			if err := h.users.Upsert(sc.Ctx, user); err != nil {
				return nil, types.Transient(fmt.Errorf("upsert user %s: %w", p.ID, err))
			}
			return map[string]string{"user_id": p.ID, "username": username}, nil
		}},
	}
}

// deriveUsername takes the e-mail local part and appends a random numeric
// suffix if another user already holds it.
func (h *UserSync) deriveUsername(sc *engine.StepContext, p *ClerkUserPayload) (string, error) {
	username := strings.Split(p.Email(), "@")[0]

	existing, err := h.users.FindByUsername(sc.Ctx, username)
	if err != nil {
		if types.IsNotFound(err) {
			return username, nil
		}
		return "", types.Transient(fmt.Errorf("lookup username %s: %w", username, err))
	}
	if string(existing.ID) == p.ID {
		return username, nil
	}
	return fmt.Sprintf("%s%d", username, rand.IntN(10000)), nil
}

// UpdatedSteps upserts the user so an update arriving before its create
// still lands.
func (h *UserSync) UpdatedSteps() []engine.Step {
	return []engine.Step{
		{Name: "update-user", Fn: func(sc *engine.StepContext) (any, error) {
			var p ClerkUserPayload
			if err := sc.BindPayload(&p); err != nil {
				return nil, err
			}
			if p.ID == "" {
				return nil, types.Validationf("user updated: missing id")
			}
			if p.Email() == "" {
				return nil, types.Validationf("user updated %s: missing email address", p.ID)
			}

			user := &types.User{
				ID:             types.UserID(p.ID),
				Email:          p.Email(),
				FullName:       p.FullName(),
				ProfilePicture: p.ImageURL,
			}
			if existing, err := h.users.FindByID(sc.Ctx, user.ID); err == nil {
				user.Username = existing.Username
			}
			if err := h.users.Upsert(sc.Ctx, user); err != nil {
				return nil, types.Transient(fmt.Errorf("upsert user %s: %w", p.ID, err))
			}
			return map[string]string{"user_id": p.ID}, nil
		}},
	}
}

// DeletedSteps removes the user; deleting an absent user is a no-op.
func (h *UserSync) DeletedSteps() []engine.Step {
	return []engine.Step{
		{Name: "delete-user", Fn: func(sc *engine.StepContext) (any, error) {
			var p ClerkUserPayload
			if err := sc.BindPayload(&p); err != nil {
				return nil, err
			}
			if p.ID == "" {
				return nil, types.Validationf("user deleted: missing id")
			}
			if err := h.users.Delete(sc.Ctx, types.UserID(p.ID)); err != nil {
				return nil, types.Transient(fmt.Errorf("delete user %s: %w", p.ID, err))
			}
			return map[string]string{"user_id": p.ID}, nil
		}},
	}
}
