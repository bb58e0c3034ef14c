package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/teachme-ai/roster/internal/audit"
	"github.com/teachme-ai/roster/internal/service/roster"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	svc           *roster.Service
	recorder      *audit.Recorder
	logger        *slog.Logger
	fetch         *http.Client
	version       string
	hasServiceKey bool
	openapiSpec   []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// FetchClient is optional; it is only used to download fileUrl payloads on
// the testing upload path.
type HandlersDeps struct {
	RosterSvc     *roster.Service
	Recorder      *audit.Recorder
	Logger        *slog.Logger
	FetchClient   *http.Client
	Version       string
	HasServiceKey bool
	OpenAPISpec   []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	fetch := d.FetchClient
	if fetch == nil {
		fetch = &http.Client{Timeout: 30 * time.Second}
	}
	return &Handlers{
		svc:           d.RosterSvc,
		recorder:      d.Recorder,
		logger:        d.Logger,
		fetch:         fetch,
		version:       d.Version,
		hasServiceKey: d.HasServiceKey,
		openapiSpec:   d.OpenAPISpec,
	}
}

type healthResponse struct {
	Message  string `json:"message"`
	Version  string `json:"version"`
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Message:  "Roster Backend API",
		Version:  h.version,
		Status:   "running",
		Database: "connected",
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}
