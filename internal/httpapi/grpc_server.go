package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"shopfront.io/internal/obs"
)

// HealthServer publishes readiness on the standard grpc.health.v1 service.
// The overall status ("") and serviceName track the ready probe.
type HealthServer struct {
	*health.Server
	probe ReadyProbe
}

// NewHealthServer creates the health service. Call Run to keep it in sync.
func NewHealthServer(probe ReadyProbe) *HealthServer {
	if probe == nil {
		probe = ReadyFunc(nil)
	}
	s := &HealthServer{Server: health.NewServer(), probe: probe}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to srv.
func (s *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.Server)
}

// Refresh runs the probe once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok := s.probe.Check(ctx) == nil
	obs.SetReady(ok)
	if ok {
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Run refreshes every interval until ctx ends, then marks the service as
// shutting down.
func (s *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *HealthServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.SetServingStatus("", st)
	s.SetServingStatus(serviceName, st)
}
