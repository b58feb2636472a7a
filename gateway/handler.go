package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/smallnest/releasedash/audit"
	"github.com/smallnest/releasedash/bus"
	"github.com/smallnest/releasedash/devops"
	"github.com/smallnest/releasedash/errors"
	"github.com/smallnest/releasedash/worker"
)

const (
	maxBodyBytes      = 1 << 20
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// StatusReporter exposes worker health.
type StatusReporter interface {
	State() worker.State
	Pending() int
}

// AuditLister reads recorded commands.
type AuditLister interface {
	List(ctx context.Context, limit int) ([]audit.Record, error)
}

// Options wires the handler to its collaborators. Status, Events and Audit
// are optional.
type Options struct {
	Query   worker.Query
	Command worker.Command
	Status  StatusReporter
	Events  *bus.EventBus
	Audit   AuditLister
}

// Handler serves the JSON API.
type Handler struct {
	mux     *http.ServeMux
	query   worker.Query
	command worker.Command
	status  StatusReporter
	events  *bus.EventBus
	audit   AuditLister
	errors  *errors.ErrorHandler
	closing chan struct{}
	once    sync.Once
}

// NewHandler creates the handler and registers every route.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		mux:     http.NewServeMux(),
		query:   opts.Query,
		command: opts.Command,
		status:  opts.Status,
		events:  opts.Events,
		audit:   opts.Audit,
		errors:  errors.NewErrorHandler(),
		closing: make(chan struct{}),
	}

	h.registerSystemRoutes()
	h.registerPipelineRoutes()
	h.registerReleaseRoutes()
	h.registerAgentSpecRoutes()
	h.registerEventRoutes()

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerSystemRoutes() {
	h.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		status := http.StatusOK
		if h.status != nil {
			state := h.status.State()
			body["worker"] = state.String()
			body["pending"] = h.status.Pending()
			if state == worker.StateStopped {
				body["status"] = "stopped"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, body)
	})

	h.mux.HandleFunc("GET /api/audit", func(w http.ResponseWriter, r *http.Request) {
		if h.audit == nil {
			h.writeError(w, r, errors.NotFound("audit log"))
			return
		}
		limit := defaultAuditLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				h.writeError(w, r, errors.InvalidInput("limit must be a positive integer"))
				return
			}
			limit = min(n, maxAuditLimit)
		}
		records, err := h.audit.List(r.Context(), limit)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	})
}

func (h *Handler) registerPipelineRoutes() {
	h.mux.HandleFunc("GET /api/pipelines", func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.query.ListPipelines(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	h.mux.HandleFunc("GET /api/pipelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathInt(r, "id")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		p, err := h.query.GetPipeline(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if p == nil {
			h.writeError(w, r, errors.NotFound("pipeline"))
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	h.mux.HandleFunc("GET /api/pipelines/{id}/definition", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathInt(r, "id")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		p, err := h.query.GetPipelineDefinition(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if p == nil {
			h.writeError(w, r, errors.NotFound("pipeline definition"))
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	h.mux.HandleFunc("GET /api/pipelines/{id}/releases", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathInt(r, "id")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp, err := h.query.ListReleases(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	h.mux.HandleFunc("GET /api/pipelines/{pipelineId}/releases/{releaseId}", func(w http.ResponseWriter, r *http.Request) {
		pipelineID, err := pathInt(r, "pipelineId")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		releaseID, err := pathInt(r, "releaseId")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		snap, err := h.query.GetEnvironmentDetails(r.Context(), pipelineID, releaseID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})
}

func (h *Handler) registerReleaseRoutes() {
	h.mux.HandleFunc("GET /api/releases/{releaseId}", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathInt(r, "releaseId")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		rel, err := h.query.GetRelease(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if rel == nil {
			h.writeError(w, r, errors.NotFound("release"))
			return
		}
		writeJSON(w, http.StatusOK, rel)
	})

	h.mux.HandleFunc("GET /api/environments/{environmentId}", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathInt(r, "environmentId")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		details, ok := h.query.EnvironmentDetails(id)
		if !ok {
			h.writeError(w, r, errors.NotFound("environment"))
			return
		}
		writeJSON(w, http.StatusOK, details)
	})

	h.mux.HandleFunc("POST /api/pipelines/{pipelineId}/releases/{releaseId}/approve", h.handleApprove)

	h.mux.HandleFunc("POST /api/releases/{releaseId}/environments/{environmentId}/cancel", func(w http.ResponseWriter, r *http.Request) {
		releaseID, err := pathInt(r, "releaseId")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		envID, err := pathInt(r, "environmentId")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		var body struct {
			Comment string `json:"comment"`
		}
		if err := decodeOptionalBody(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
		req := devops.CancelReleaseRequest{ReleaseID: releaseID, EnvironmentID: envID, Comment: body.Comment}
		if err := h.command.CancelRelease(commandContext(r), req); err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"canceled": 1})
	})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	releaseID, err := pathInt(r, "releaseId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	form, err := readApproveForm(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	plan := planApproval(form, releaseID)
	for _, req := range plan.Starts {
		if err := devops.ValidateStartRequest(req); err != nil {
			h.writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid environment status"))
			return
		}
	}

	ctx := commandContext(r)
	switch {
	case len(plan.Starts) > 0:
		err = h.command.StartReleases(ctx, plan.Starts)
	case len(plan.Approvals) > 0:
		err = h.command.ApproveReleases(ctx, plan.Approvals)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Approvals are only sent when nothing is started.
	approved := len(plan.Approvals)
	if len(plan.Starts) > 0 {
		approved = 0
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"started":  len(plan.Starts),
		"approved": approved,
	})
}

func (h *Handler) registerAgentSpecRoutes() {
	h.mux.HandleFunc("GET /api/agent-specs", func(w http.ResponseWriter, r *http.Request) {
		infos, err := h.query.AgentSpecifications(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, infos)
	})

	h.mux.HandleFunc("POST /api/agent-specs", func(w http.ResponseWriter, r *http.Request) {
		var reqs []devops.UpdateAgentSpecRequest
		if err := decodeBody(r, &reqs); err != nil {
			h.writeError(w, r, err)
			return
		}
		for i, req := range reqs {
			if req.PipelineID <= 0 || req.EnvironmentID <= 0 || strings.TrimSpace(req.NewAgentSpec) == "" {
				h.writeError(w, r, errors.InvalidInput("update "+strconv.Itoa(i)+" needs pipelineId, environmentId and newAgentSpec"))
				return
			}
		}
		if err := h.command.UpdateAgentSpecifications(commandContext(r), reqs); err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"updated": len(reqs)})
	})
}

// Close ends open event streams.
func (h *Handler) Close() {
	h.once.Do(func() { close(h.closing) })
}

// commandContext detaches commands from the request: the request context
// ends when the handler returns, while the command still sits in the queue.
func commandContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func pathInt(r *http.Request, name string) (int, error) {
	v := r.PathValue(name)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.InvalidInput(name + " must be an integer")
	}
	return n, nil
}

func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "read request body")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body")
	}
	return nil
}
