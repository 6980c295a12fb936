package domain

import (
	"encoding/json"
	"time"
)

// AuthEvent is an authentication event published for observability (OTel logs,
// Kafka, Loki). It mirrors an audit_logs row.
type AuthEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Resource  string          `json:"resource"`
	UserID    string          `json:"userId,omitempty"`
	IP        string          `json:"ip,omitempty"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
