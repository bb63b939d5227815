package server

import (
	"chat-relay/contract"
	"context"
	"log/slog"
	"time"

	grpc3 "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// RelayService is the service name reported by the health endpoint,
// next to the overall "" status.
const RelayService = "chat.relay"

var _ contract.Worker = (*HealthServer)(nil)

// HealthServer serves grpc.health.v1 and keeps the status in line with the registry:
// the relay is SERVING only while the registry answers.
type HealthServer struct {
	log      *slog.Logger
	health   *health.Server
	registry contract.IRegistry
	interval time.Duration
}

func NewHealthServer(log *slog.Logger, registry contract.IRegistry, interval time.Duration) *HealthServer {
	h := health.NewServer()
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(RelayService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{log: log, health: h, registry: registry, interval: interval}
}

// NewServer builds the gRPC server with request logging and the health service registered.
func NewServer(log *slog.Logger, healthServer *HealthServer) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(log)))
	grpc_health_v1.RegisterHealthServer(s, healthServer.health)
	return s
}

// Run probes the registry every interval until ctx is done, then reports NOT_SERVING for good.
func (h *HealthServer) Run(ctx context.Context) error {
	h.probe(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			h.log.Debug("Health reporting stopped")
			return ctx.Err()
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

func (h *HealthServer) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if _, err := h.registry.Stats(probeCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		h.log.Warn("Registry not answering, reporting NOT_SERVING", "error", err)
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(RelayService, status)
}
