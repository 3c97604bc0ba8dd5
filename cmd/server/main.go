// Package main provides the HTTP server that runs drip emails on a cron trigger.
//
// Configuration via environment variables:
//
//	DATABASE_URL           - PostgreSQL connection string (required)
//	CRON_SECRET            - Bearer token expected on /cron/* requests (required)
//	RESEND_API_KEY         - Resend API key (required unless dry run)
//	GMAIL_CREDENTIALS_JSON - Service account JSON for dry-run drafts
//	GMAIL_MAILBOX          - Mailbox the drafts are created in
//	GITHUB_APP_ID          - GitHub App ID, enables setup PR rechecks
//	GITHUB_PRIVATE_KEY     - GitHub App private key in PEM format
//	SLACK_BOT_TOKEN        - Slack bot token for run notifications
//	CONFIG_PATH            - Engine config file (default: drip.yaml)
//	PORT                   - HTTP server port (default: 8080)
//
// Engine settings can be overridden with DRIP_* variables, e.g. DRIP_DRY_RUN=false.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gitauto-ai/drip/app"
	"github.com/gitauto-ai/drip/drip"
)

// runner is the part of the engine the cron endpoints call.
type runner interface {
	Run(ctx context.Context) (*drip.Summary, error)
	RunSalvage(ctx context.Context) (*drip.Summary, error)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cronSecret := os.Getenv("CRON_SECRET")
	if cronSecret == "" {
		logger.Error("failed to initialize", "error", "CRON_SECRET is required")
		os.Exit(1)
	}

	env, err := app.LoadEnv()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	a, err := app.New(context.Background(), env, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      newMux(a.Engine, cronSecret, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // a run paces through every installation
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

type handler struct {
	cronSecret string
	logger     *slog.Logger

	// running serializes runs so overlapping cron triggers cannot double-send.
	running sync.Mutex
}

func newMux(r runner, cronSecret string, logger *slog.Logger) *http.ServeMux {
	h := &handler{cronSecret: cronSecret, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/cron/drip", h.cron("drip", r.Run))
	mux.HandleFunc("/cron/salvage", h.cron("salvage", r.RunSalvage))
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *handler) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}

type runResponse struct {
	Sent    int           `json:"sent"`
	Total   int           `json:"total"`
	Results []drip.Result `json:"results"`
}

func (h *handler) cron(kind string, run func(context.Context) (*drip.Summary, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !h.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !h.running.TryLock() {
			jsonResponse(w, http.StatusConflict, map[string]string{"error": "a run is already in progress"})
			return
		}
		defer h.running.Unlock()

		h.logger.Info("cron triggered", "kind", kind)
		summary, err := run(r.Context())
		if err != nil {
			h.logger.Error("run failed", "kind", kind, "error", err)
			jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		results := summary.Results
		if results == nil {
			results = []drip.Result{}
		}
		jsonResponse(w, http.StatusOK, runResponse{Sent: summary.Sent, Total: summary.Total, Results: results})
	}
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
