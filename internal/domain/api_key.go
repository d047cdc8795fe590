package domain

import "time"

// APIKey is a stored credential. Only the bcrypt hash of the secret part is kept.
type APIKey struct {
	ID         int32      `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	SecretHash string     `json:"-"`
	ActingUser string     `json:"acting_user"`
	Active     bool       `json:"active"`
	LastUsedOn *time.Time `json:"last_used_on,omitempty"`
	CreatedOn  time.Time  `json:"created_on"`
}
