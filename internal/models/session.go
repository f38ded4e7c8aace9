package models

import "time"

// Session is a short-lived purchase authorization issued by the advisory
// service. It is usable only while now < ExpiresAt and IsActive.
type Session struct {
	ID              string     `json:"id"`
	Token           string     `json:"-"`
	UserID          *int64     `json:"user_id,omitempty"`
	IntentConfirmed bool       `json:"intent_confirmed"`
	Message         string     `json:"message"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	IsActive        bool       `json:"is_active"`
	ConsumedAt      *time.Time `json:"consumed_at,omitempty"`
}

// UsableAt reports whether the session may still authorize a purchase at now.
// Expiry is exclusive: a session is already expired at exactly ExpiresAt.
func (s *Session) UsableAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}
