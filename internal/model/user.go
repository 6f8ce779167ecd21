// Package model defines the data structures used throughout the application.
package model

import (
	"encoding/json"
	"time"
)

// Provider tags how a session was established.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderSimple Provider = "simple"
	ProviderTest   Provider = "test"
)

// AllProviders lists every Provider value.
func AllProviders() []Provider {
	return []Provider{ProviderGoogle, ProviderSimple, ProviderTest}
}

// AuthRecord is the single authentication record persisted in the auth cookie.
//
// UserID and AuthUserID are usually equal for OAuth sign-ins, but they are
// kept apart: AuthUserID is what the identity provider calls the person, and
// is what the backend's profile check is keyed on. Email is the fallback key
// when the backend has not seen AuthUserID yet.
type AuthRecord struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	AuthUserID string    `json:"auth_user_id"`
	Provider   Provider  `json:"provider"`
	Expires    time.Time `json:"expires"`
}

// CookieUser is the display projection of an AuthRecord.
type CookieUser struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	AuthUserID string `json:"auth_user_id"`
}

// Identity is what a successful resolution produces, before it is persisted.
type Identity struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Provider Provider `json:"provider"`
}

// Record converts the identity into the record the cookie store persists.
// Expires is left zero; the store stamps it.
func (i Identity) Record() AuthRecord {
	return AuthRecord{
		UserID:     i.ID,
		Email:      i.Email,
		FullName:   i.FullName,
		AuthUserID: i.ID,
		Provider:   i.Provider,
	}
}

// ProfileStatus is the backend's answer to "does this person have a complete
// profile". User is the backend's own user object; we never interpret it, only
// pass it on to the profile-completion page.
type ProfileStatus struct {
	User            json.RawMessage `json:"user"`
	IsNewUser       bool            `json:"is_new_user"`
	ProfileComplete bool            `json:"profile_complete"`
}
