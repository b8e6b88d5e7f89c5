// Package api maps the REST surface onto the repository engine:
// producers are repositories, environments are env/<id> branches, and
// every revision doubles as an ETag.
package api

import (
	"log/slog"
	"net/http"

	"lunchbadger/configstore/pkg/audit"
	"lunchbadger/configstore/pkg/events"
	"lunchbadger/configstore/pkg/store"
	"lunchbadger/configstore/pkg/telemetry/metrics"
	"lunchbadger/configstore/pkg/validator"
)

// Handler serves the /producers REST surface.
type Handler struct {
	manager    *store.Manager
	bus        *events.Bus
	validator  *validator.Validator
	auditStore *audit.Store
	collector  *metrics.Collector
	logger     *slog.Logger
	mux        *http.ServeMux
}

// Options configures optional Handler collaborators.
type Options struct {
	// Validator checks file content before a write transaction opens.
	// Nil accepts everything.
	Validator *validator.Validator

	// Audit receives one entry per REST commit. Nil disables.
	Audit *audit.Store

	// Collector records request and transaction metrics. Nil disables.
	Collector *metrics.Collector
}

// NewHandler creates the REST handler.
func NewHandler(manager *store.Manager, bus *events.Bus, logger *slog.Logger, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		manager:    manager,
		bus:        bus,
		validator:  opts.Validator,
		auditStore: opts.Audit,
		collector:  opts.Collector,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /producers", h.createProducer)
	mux.HandleFunc("GET /producers", h.listProducers)
	mux.HandleFunc("GET /producers/{id}", h.getProducer)
	mux.HandleFunc("GET /producers/{id}/exists", h.producerExists)
	mux.HandleFunc("DELETE /producers/{id}", h.deleteProducer)
	mux.HandleFunc("GET /producers/{id}/accesskey", h.getAccessKey)
	mux.HandleFunc("POST /producers/{id}/accesskey", h.regenerateAccessKey)
	mux.HandleFunc("GET /producers/{id}/audit", h.listAudit)
	mux.HandleFunc("GET /producers/{id}/change-stream", h.changeStream)
	mux.HandleFunc("PUT /producers/{id}/envs/{envId}", h.upsertEnv)
	mux.HandleFunc("GET /producers/{id}/envs/{envId}", h.getEnv)
	mux.HandleFunc("DELETE /producers/{id}/envs/{envId}", h.deleteEnv)
	mux.HandleFunc("PATCH /producers/{id}/envs/{envId}/files", h.updateFiles)
	mux.HandleFunc("GET /producers/{id}/envs/{envId}/files/{path...}", h.getFile)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// envBranch maps an environment id to its branch name.
func envBranch(envID string) string {
	return store.EnvBranchPrefix + envID
}
