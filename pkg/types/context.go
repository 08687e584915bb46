package types

import "time"

// AuthUser is the authenticated identity behind a session.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// UserAuthSession holds the live Supabase session for one user.
type UserAuthSession struct {
	User         AuthUser  `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session's access token is past its deadline.
func (s *UserAuthSession) Expired(now time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// UserContext is the request-scoped identity and scope passed explicitly
// down every code path that mutates session state. The ambient pointer held
// by the session registry is a read-only convenience for leaf code.
type UserContext struct {
	UserID          string           `json:"user_id"`
	User            AuthUser         `json:"user"`
	Session         *UserAuthSession `json:"-"`
	ProjectID       string           `json:"project_id,omitempty"`
	CollaborationID string           `json:"collaboration_id,omitempty"`
	InteractionID   string           `json:"interaction_id,omitempty"`
}
