package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medconnect/backend/internal/audit/domain"
	auditrepo "medconnect/backend/internal/audit/repository"
	"medconnect/backend/internal/telemetry"
	telemetrydomain "medconnect/backend/internal/telemetry/domain"
)

// eventSource labels auth events published from the API process.
const eventSource = "api"

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. Used by the auth and session flows.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]any)
}

// Logger persists audit events and publishes each one as an auth event.
type Logger struct {
	repo        auditrepo.Repository
	emitter     telemetry.EventEmitter
	ipExtractor IPExtractor
	log         zerolog.Logger
	now         func() time.Time
}

// NewLogger returns a Logger. repo, emitter and ipExtractor may each be nil;
// without an extractor the IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, emitter telemetry.EventEmitter, ipExtractor IPExtractor, log zerolog.Logger) *Logger {
	return &Logger{
		repo:        repo,
		emitter:     emitter,
		ipExtractor: ipExtractor,
		log:         log.With().Str("component", "audit").Logger(),
		now:         time.Now,
	}
}

// LogEvent writes one audit log entry and emits it asynchronously.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]any) {
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	var meta []byte
	if len(metadata) > 0 {
		var err error
		if meta, err = json.Marshal(metadata); err != nil {
			l.log.Warn().Err(err).Str("action", action).Msg("audit: metadata not serializable")
			meta = nil
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  string(meta),
		CreatedAt: l.now().UTC(),
	}
	if l.repo != nil {
		if err := l.repo.Create(ctx, entry); err != nil {
			l.log.Error().Err(err).Str("action", action).Str("resource", resource).Msg("audit: failed to log event")
		}
	}
	telemetry.EmitAsync(ctx, l.emitter, &telemetrydomain.AuthEvent{
		ID:        entry.ID,
		EventType: action,
		Resource:  resource,
		UserID:    userID,
		IP:        ip,
		Source:    eventSource,
		Metadata:  meta,
		CreatedAt: entry.CreatedAt,
	}, l.log)
}

// Nop is an AuditLogger that records nothing.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, string, map[string]any) {}
