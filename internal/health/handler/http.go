// Package handler serves liveness and readiness over HTTP and mirrors readiness
// into the gRPC health service.
package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/server/envelope"
)

// Pinger checks database connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RedisPinger checks Redis connectivity (e.g. *redis.Client).
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// PolicyChecker runs the login policy self-check (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

const (
	statusUp   = "up"
	statusDown = "down"

	defaultCheckTimeout = 2 * time.Second
)

// Handler reports process health. Nil dependencies are skipped.
type Handler struct {
	db      Pinger
	redis   RedisPinger
	policy  PolicyChecker
	timeout time.Duration
}

// NewHandler returns a Handler. Any argument may be nil.
func NewHandler(db Pinger, redis RedisPinger, policy PolicyChecker) *Handler {
	return &Handler{db: db, redis: redis, policy: policy, timeout: defaultCheckTimeout}
}

// Check runs every configured dependency check and reports each one's state.
// ready is false if any check failed.
func (h *Handler) Check(ctx context.Context) (checks map[string]string, ready bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	checks = make(map[string]string, 3)
	ready = true
	record := func(name string, err error) {
		if err != nil {
			checks[name] = statusDown
			ready = false
			return
		}
		checks[name] = statusUp
	}
	if h.db != nil {
		record("database", h.db.PingContext(ctx))
	}
	if h.redis != nil {
		record("redis", h.redis.Ping(ctx).Err())
	}
	if h.policy != nil {
		record("policy", h.policy.HealthCheck(ctx))
	}
	return checks, ready
}

// Live handles GET /health. It never touches dependencies.
func (h *Handler) Live(c *gin.Context) {
	envelope.OK(c, "", gin.H{"status": "ok"})
}

// Ready handles GET /ready: 200 when every dependency answers, 503 otherwise.
func (h *Handler) Ready(c *gin.Context) {
	checks, ready := h.Check(c.Request.Context())
	if !ready {
		envelope.Fail(c, apperror.New(apperror.KindUnavailable, "one or more dependencies are unavailable").
			WithDetail("checks", checks))
		return
	}
	envelope.OK(c, "", gin.H{"status": "ready", "checks": checks})
}
