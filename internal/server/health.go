package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/StricklySoft/messaged/pkg/lifecycle"
)

// HealthCheck is a named dependency check run by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthResponse struct {
	Status  string            `json:"status"`
	State   lifecycle.State   `json:"state"`
	Service lifecycle.Info    `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := s.service.Info()
	resp := healthResponse{Status: "ok", State: info.State, Service: info}
	healthy := s.service.Health(ctx) == nil

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for _, hc := range s.checks {
			checkCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthCheckTimeout)
			err := hc.Check(checkCtx)
			cancel()
			if err != nil {
				healthy = false
				resp.Checks[hc.Name] = err.Error()
				s.logger.WarnContext(ctx, "health check failed", "check", hc.Name, "error", err)
				continue
			}
			resp.Checks[hc.Name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
