package handler

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SyncGRPC sets the overall serving status of srv from Check once, then every
// interval until ctx is done. On return srv is marked NOT_SERVING.
func (h *Handler) SyncGRPC(ctx context.Context, srv *health.Server, interval time.Duration) {
	h.updateGRPC(ctx, srv)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.Shutdown()
			return
		case <-t.C:
			h.updateGRPC(ctx, srv)
		}
	}
}

func (h *Handler) updateGRPC(ctx context.Context, srv *health.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if _, ready := h.Check(ctx); !ready {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	srv.SetServingStatus("", status)
}
