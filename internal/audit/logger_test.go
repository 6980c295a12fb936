package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"medconnect/backend/internal/audit/domain"
	telemetrydomain "medconnect/backend/internal/telemetry/domain"
)

type mockAuditRepo struct {
	mu        sync.Mutex
	entries   []*domain.AuditLog
	createErr error
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	return nil, nil
}

type chanEmitter chan *telemetrydomain.AuthEvent

func (c chanEmitter) Emit(ctx context.Context, ev *telemetrydomain.AuthEvent) error {
	c <- ev
	return nil
}

func TestLogger_LogEvent(t *testing.T) {
	repo := &mockAuditRepo{}
	events := make(chanEmitter, 1)
	l := NewLogger(repo, events, func(context.Context) string { return "192.168.1.1" }, zerolog.Nop())

	l.LogEvent(context.Background(), "user-1", domain.ActionLoginSuccess, domain.ResourceAuth, map[string]any{"role": "MEDECIN"})

	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(repo.entries))
	}
	e := repo.entries[0]
	if e.UserID != "user-1" || e.Action != "login_success" || e.Resource != "auth" || e.IP != "192.168.1.1" {
		t.Errorf("entry = %+v", e)
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(e.Metadata), &meta); err != nil || meta["role"] != "MEDECIN" {
		t.Errorf("metadata = %q (%v)", e.Metadata, err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Error("ID and CreatedAt should be set")
	}

	select {
	case ev := <-events:
		if ev.ID != e.ID || ev.EventType != "login_success" || ev.Source != "api" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("auth event not emitted")
	}
}

func TestLogger_LogEvent_Defaults(t *testing.T) {
	repo := &mockAuditRepo{}
	l := NewLogger(repo, nil, nil, zerolog.Nop())
	l.LogEvent(context.Background(), "", domain.ActionLoginFailure, domain.ResourceAuth, nil)
	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(repo.entries))
	}
	if repo.entries[0].IP != "unknown" || repo.entries[0].Metadata != "" {
		t.Errorf("entry = %+v", repo.entries[0])
	}
}

func TestLogger_LogEvent_RepoErrorIsSwallowed(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("db down")}
	l := NewLogger(repo, nil, nil, zerolog.Nop())
	l.LogEvent(context.Background(), "user-1", domain.ActionLogout, domain.ResourceSession, nil)
	if len(repo.entries) != 0 {
		t.Error("failed create should not record")
	}
}

func TestLogger_NilRepo(t *testing.T) {
	l := NewLogger(nil, nil, nil, zerolog.Nop())
	l.LogEvent(context.Background(), "user-1", domain.ActionLogout, domain.ResourceSession, nil)
	Nop{}.LogEvent(context.Background(), "user-1", domain.ActionLogout, domain.ResourceSession, nil)
}
