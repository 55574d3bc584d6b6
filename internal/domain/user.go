package domain

import "time"

// Session is an anonymous chat identity. The session id doubles as the
// owner id of every fragment, chat and job the session creates.
type Session struct {
	ID        string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserContext is the authenticated session context injected into request handlers.
type UserContext struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}
