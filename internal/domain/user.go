// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

// UserID is an opaque, client-generated identity. It is the addressing key
// for all signaling and is distinct from the transport connection handle,
// which changes on every reconnect.
type UserID string

type User struct {
	ID          UserID `json:"identity"`
	DisplayName string `json:"displayName"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
// Clients normally bring their own persisted ID; this generates one for
// callers that do not.
func NewUser(displayName string) (*User, error) {
	if err := validateName(displayName); err != nil {
		return nil, err
	}
	return &User{ID: UserID(uuid.NewString()), DisplayName: displayName}, nil
}

func (u *User) SetDisplayName(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	u.DisplayName = name
	return nil
}

func validateName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
