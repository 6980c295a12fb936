package domain

import (
	"encoding/json"
	"time"
)

// Kind is the token record kind.
type Kind string

const (
	KindAccess        Kind = "ACCESS"
	KindRefresh       Kind = "REFRESH"
	KindPasswordReset Kind = "PASSWORD_RESET"
)

// TokenRecord is a persisted, single-use token entry (token_records table). Only the
// SHA-256 of the raw token is stored. The only transition is unused to used.
type TokenRecord struct {
	ID     string
	UserID string
	// SessionID ties the access and refresh records minted together. Empty for PASSWORD_RESET.
	SessionID string
	Kind      Kind
	TokenHash string
	Payload   json.RawMessage // nil unless Kind is PASSWORD_RESET
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// IsActive reports whether the record is unused and unexpired at now.
func (r *TokenRecord) IsActive(now time.Time) bool {
	return r != nil && !r.Used && now.Before(r.ExpiresAt)
}

// ResetPayload is the payload of a PASSWORD_RESET record.
type ResetPayload struct {
	Code    string `json:"code"`
	Channel string `json:"channel"`
}

// Session is a logical login: an access record and the refresh record minted with it.
// Either side may be missing (admins never get refresh tokens; one side may have been revoked).
type Session struct {
	CreatedAt time.Time
	ExpiresAt time.Time
	Access    *TokenRecord
	Refresh   *TokenRecord
}
