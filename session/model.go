package session

import "time"

// Session is the server-side record that backs a refresh lineage. The
// RefreshTokenID field holds the jti of the one refresh token currently
// valid for this session; rotation swaps it atomically.
type Session struct {
	SessionID      string
	UserID         string
	RefreshTokenID string
	CreatedAt      time.Time
	LastSeenAt     time.Time
	ExpiresAt      time.Time
	Revoked        bool
}

// Active reports whether the session can still mint tokens at instant now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}
