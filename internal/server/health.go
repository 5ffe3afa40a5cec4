package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/ws-dispatch/pkg/builtin"
	"github.com/morezero/ws-dispatch/pkg/dispatcher"
)

const healthLogPrefix = "server:health"

// healthChecks returns the dependency checks for rpc.health. A broken COMMS
// connection is critical because it takes a transport down; the database is
// only read at startup.
func (s *Server) healthChecks() (map[string]builtin.Check, []string) {
	checks := make(map[string]builtin.Check)
	var critical []string
	if s.nc != nil {
		nc := s.nc
		checks["comms"] = func(context.Context) error {
			if status := nc.Status(); status != comms.CONNECTED {
				return fmt.Errorf("connection %s", status)
			}
			return nil
		}
		critical = append(critical, "comms")
	}
	if s.pool != nil {
		pool := s.pool
		checks["database"] = func(ctx context.Context) error {
			return pool.Ping(ctx)
		}
	}
	return checks, critical
}

// healthReport runs rpc.health through the dispatcher, so the report is
// validated like any client call.
func (s *Server) healthReport(ctx context.Context) (map[string]interface{}, error) {
	resp := s.disp.Process(ctx, &dispatcher.Message{Type: "request", Method: builtin.MethodHealth}, nil,
		&dispatcher.RequestContext{Transport: "http"})
	if resp.Error != nil {
		return nil, errors.New(resp.Error.Message)
	}
	report, ok := resp.Result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected health result %T", resp.Result)
	}
	return report, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	report, err := s.healthReport(ctx)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - health report failed: %v", healthLogPrefix, err))
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": builtin.StatusUnhealthy})
		return
	}
	if report["status"] == builtin.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
