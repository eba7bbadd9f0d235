package domain

import "time"

// ExpiringSoonWindow is the lookahead before expiry during which a token
// is proactively refreshed.
const ExpiringSoonWindow = 5 * time.Minute

// Token persists one Bitrix24 OAuth access/refresh pair. At most one active
// row exists per (connection, user, domain) triple.
type Token struct {
	ID           int64          `json:"id"`
	Connection   string         `json:"connection"`
	UserID       *int64         `json:"user_id"`
	Domain       string         `json:"domain"`
	AccessToken  string         `json:"-"`
	RefreshToken string         `json:"-"`
	ExpiresIn    int64          `json:"expires_in"`
	ExpiresAt    *time.Time     `json:"expires_at"`
	Scope        []string       `json:"scope,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsExpired reports whether the token is past its expiry. Tokens without an
// expiry never expire.
func (t *Token) IsExpired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return t.ExpiresAt.Before(time.Now())
}

// IsExpiringSoon reports whether the token expires within the soon window.
func (t *Token) IsExpiringSoon() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return t.ExpiresAt.Add(-ExpiringSoonWindow).Before(time.Now())
}

// TokenData carries the token fields returned by the Bitrix24 OAuth endpoint
// before they are persisted.
type TokenData struct {
	Domain       string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        []string
	Metadata     map[string]any
}

// Credentials is the hand-off object for SDK-style outbound calls built from
// a valid token plus the connection's client pair.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	ClientID     string
	ClientSecret string
	Domain       string
}
