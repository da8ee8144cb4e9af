package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ProfilePic string    `json:"profile_pic,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserProfile is the peer snapshot sent with a conversation view. Online is
// derived from presence and never stored.
type UserProfile struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ProfilePic string    `json:"profile_pic,omitempty"`
	Online     bool      `json:"online"`
}

// UserRef is the directory entry shape (name and avatar only).
type UserRef struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	ProfilePic string    `json:"profile_pic,omitempty"`
}

func (u *User) Profile(online bool) UserProfile {
	return UserProfile{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		ProfilePic: u.ProfilePic,
		Online:     online,
	}
}

func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, ProfilePic: u.ProfilePic}
}
