package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the core identity record. PasswordHash is empty for OTP-only roles.
type User struct {
	ID               string
	Email            string
	Phone            string // digits only, unique
	FirstName        string
	LastName         string
	Role             Role
	Status           UserStatus
	PasswordHash     string
	PreferredChannel Channel
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIF"
	UserStatusSuspended UserStatus = "SUSPENDU"
	UserStatusDisabled  UserStatus = "DESACTIVE"
)

// Channel is the user's preferred out-of-band channel.
type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
)

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}

// DisplayName is "FirstName LastName".
func (u *User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Phone == "" {
		return errors.New("phone is required")
	}
	if !u.Role.Valid() {
		return errors.New("unknown role")
	}
	if u.Role.Policy().LoginMethod == LoginMethodPassword && u.PasswordHash == "" {
		return errors.New("password hash is required for " + string(u.Role))
	}
	if u.Role.Policy().LoginMethod == LoginMethodOTP && u.PasswordHash != "" {
		return errors.New(string(u.Role) + " accounts must not carry a password")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.PreferredChannel == "" {
		u.PreferredChannel = ChannelSMS
	}
	return nil
}
