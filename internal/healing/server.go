package healing

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tdnguyen/healer/internal/core/domain"
)

// Server exposes HTTP health/metrics endpoints plus the standard gRPC
// health service, both driven by the orchestrator's live score.
type Server struct {
	orch     *Orchestrator
	httpSrv  *http.Server
	grpcSrv  *grpc.Server
	grpcAddr string
	health   *health.Server
}

// NewServer creates the observability server. grpcPort <= 0 disables
// the gRPC listener.
func NewServer(orch *Orchestrator, httpPort, grpcPort int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		orch: orch,
		httpSrv: &http.Server{
			Addr:    fmt.Sprintf(":%d", httpPort),
			Handler: mux,
		},
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/healthz/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	if grpcPort > 0 {
		s.grpcAddr = fmt.Sprintf(":%d", grpcPort)
		s.grpcSrv = grpc.NewServer()
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcSrv, s.health)
	}
	return s
}

// Start runs both listeners. HTTP serving blocks; the gRPC listener
// runs in its own goroutine and a status refresher keeps the gRPC
// health answer aligned with the health score.
func (s *Server) Start(ctx context.Context) error {
	if s.grpcSrv != nil {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.grpcAddr, err)
		}
		go func() {
			if err := s.grpcSrv.Serve(lis); err != nil {
				s.orch.log.Error("gRPC health server stopped", "error", err)
			}
		}()
		go s.refreshGRPCStatus(ctx)
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts both listeners down.
func (s *Server) Stop(ctx context.Context) error {
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) refreshGRPCStatus(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			snap := s.orch.Snapshot(healthWindow)
			status := healthpb.HealthCheckResponse_SERVING
			if snap.Status == domain.HealthCritical {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			s.health.SetServingStatus("", status)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot(healthWindow)
	w.Header().Set("Content-Type", "application/json")
	if snap.Status == domain.HealthCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status": snap.Status,
		"score":  snap.Score,
	})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot(healthWindow)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
