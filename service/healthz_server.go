package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/ut-runner/runner"
)

const (
	HealthStarting          = "starting"
	HealthOK                = "ok"
	HealthEngineUnavailable = "engine_unavailable"
	HealthClosed            = "closed"
)

// HealthReporter exposes the state of the run session
type HealthReporter interface {
	Health() runner.Health
}

type healthResponse struct {
	Status string `json:"status"`
	runner.Health
}

// HealthzServer answers /healthz with the session state. It reports
// "starting" until a reporter is attached and 503 once the session is closed.
type HealthzServer struct {
	ctx    context.Context
	server *http.Server

	mu       sync.RWMutex
	reporter HealthReporter
}

// SetReporter attaches the session whose state is reported
func (h *HealthzServer) SetReporter(r HealthReporter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reporter = r
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	h.server = &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
	h.ctx = ctx
	return h.server.ListenAndServe()
}

func (h *HealthzServer) Shutdown() error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(h.ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	reporter := h.reporter
	h.mu.RUnlock()

	resp := healthResponse{Status: HealthStarting}
	code := http.StatusOK
	if reporter != nil {
		resp.Health = reporter.Health()
		switch {
		case resp.Closed:
			resp.Status = HealthClosed
			code = http.StatusServiceUnavailable
		case resp.Engine != nil && resp.Engine.Error != "":
			// the process is alive; runs fail until the engine answers again
			resp.Status = HealthEngineUnavailable
		default:
			resp.Status = HealthOK
		}
	}
	log.Debug("Received health check request", "path", r.URL.Path, "status", resp.Status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warn("Failed to write health response", "err", err)
	}
}
