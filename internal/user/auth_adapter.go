package user

import (
	"context"

	"github.com/James-May-Coding/myrail-network/internal/auth"
)

// AuthAdapter adapts user.Store to the auth.SessionLookup interface.
type AuthAdapter struct {
	store *Store
}

// NewAuthAdapter creates a new AuthAdapter wrapping the given user store.
func NewAuthAdapter(store *Store) *AuthAdapter {
	return &AuthAdapter{store: store}
}

// LookupSession looks up a session token and returns the associated auth.User.
func (a *AuthAdapter) LookupSession(ctx context.Context, token string) (*auth.User, error) {
	u, err := a.store.GetSessionUser(ctx, token)
	if err != nil {
		return nil, err
	}
	out := &auth.User{
		ID:        u.ID,
		DiscordID: u.DiscordID,
		Username:  u.Username,
	}
	if u.Email != nil {
		out.Email = *u.Email
	}
	if u.Avatar != nil {
		out.Avatar = *u.Avatar
	}
	return out, nil
}
