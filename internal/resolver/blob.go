package resolver

import (
	"time"

	"github.com/sakif/job-tracker-web/internal/model"
)

// TokenBlob is the provider-namespaced record kept per device after a
// successful sign-in. Only the user object is read back.
type TokenBlob struct {
	User    *BlobUser `json:"user"`
	SavedAt time.Time `json:"saved_at"`
}

// BlobUser mirrors the provider's user object.
type BlobUser struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

type UserMetadata struct {
	FullName string `json:"full_name,omitempty"`
	Name     string `json:"name,omitempty"`
}

// NewTokenBlob builds the blob cached for id.
func NewTokenBlob(id model.Identity, now time.Time) TokenBlob {
	return TokenBlob{
		User: &BlobUser{
			ID:           id.ID,
			Email:        id.Email,
			UserMetadata: UserMetadata{FullName: id.FullName},
		},
		SavedAt: now.UTC(),
	}
}

// Identity converts the cached user back into an identity. full_name wins
// over name.
func (u BlobUser) Identity(provider model.Provider) model.Identity {
	name := u.UserMetadata.FullName
	if name == "" {
		name = u.UserMetadata.Name
	}
	return model.Identity{
		ID:       u.ID,
		Email:    u.Email,
		FullName: name,
		Provider: provider,
	}
}
