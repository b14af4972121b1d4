package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Internet-of-People/iop-profile-server/internal/session"
)

// statusSnapshot is the read-only operational view the status subcommand
// prints; it deliberately carries only a session count and timing
// fields, not profile data, keeping this short of the admin management
// surface Non-goals exclude.
type statusSnapshot struct {
	SessionsOnline int    `json:"sessions_online"`
	StartedAt      string `json:"started_at"`
	Uptime         string `json:"uptime"`
}

// adminServer exposes /status (JSON, read by the CLI status subcommand)
// and /metrics (Prometheus exposition) on one HTTP server, bound to the
// address the caller supplies (runServer uses bind_to_interface).
// net/http is used directly: this is the same "nothing to gain from a
// third-party client" case as internal/collaborators' LOC/CAN adapters,
// here on the serving rather than the dialing side.
type adminServer struct {
	srv *http.Server
}

func newAdminServer(addr string, reg prometheus.Gatherer, sessions *session.Registry, startedAt time.Time, logger *zap.Logger) *adminServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snap := statusSnapshot{
			SessionsOnline: sessions.Count(),
			StartedAt:      startedAt.UTC().Format(time.RFC3339),
			Uptime:         time.Since(startedAt).Round(time.Second).String(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			logger.Warn("failed to encode status snapshot", zap.Error(err))
		}
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &adminServer{srv: &http.Server{Addr: addr, Handler: mux}}
}

func (a *adminServer) run(logger *zap.Logger) {
	if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("admin server stopped unexpectedly", zap.Error(err))
	}
}

func (a *adminServer) shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

// fetchStatus is the client side used by the status subcommand: a single
// GET against the running process's admin port.
func fetchStatus(ctx context.Context, baseURL string) (statusSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return statusSnapshot{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return statusSnapshot{}, err
	}
	defer resp.Body.Close()

	var snap statusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return statusSnapshot{}, err
	}
	return snap, nil
}
