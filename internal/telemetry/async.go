package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"medconnect/backend/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration bounds Drain at shutdown. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

var inflight sync.WaitGroup

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// emitter and event may be nil; EmitAsync then returns immediately. The goroutine is
// detached from ctx cancellation but keeps its values.
func EmitAsync(ctx context.Context, emitter EventEmitter, event *domain.AuthEvent, log zerolog.Logger) {
	if emitter == nil || event == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		emitCtx, cancel := context.WithTimeout(base, emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Warn().Err(err).Str("event_type", event.EventType).Msg("telemetry: async emit failed")
		}
	}()
}

// Drain waits for every emit started by EmitAsync to finish, or for ctx to end.
// Call it after the servers stop and before the providers shut down.
func Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
