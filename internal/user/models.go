package user

import "time"

// User is an internal user record resolved from a Discord identity.
// The id is immutable; profile fields are refreshed on each login.
type User struct {
	ID        string    `json:"id"`
	DiscordID string    `json:"discord_id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	Avatar    *string   `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a server-side session row. Only the SHA-256 hash of the
// opaque token is stored.
type Session struct {
	TokenHash string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ResolveInput carries the provider profile fields used on upsert.
type ResolveInput struct {
	DiscordID string
	Username  string
	Email     string
	Avatar    string
}
