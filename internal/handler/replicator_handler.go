package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/errors"
	"github.com/devrev/replicator/internal/model"
)

// Service is what the handler needs from the replicator host.
type Service interface {
	ServePull(ctx context.Context, req *model.PullRequest) *model.PullResponse
	Introspect(name string) (string, error)
}

// ReplicatorHandler serves the inbound side of the pull protocol.
type ReplicatorHandler struct {
	service Service
	logger  *zap.Logger
}

// NewReplicatorHandler creates a new replicator handler.
func NewReplicatorHandler(service Service, logger *zap.Logger) *ReplicatorHandler {
	return &ReplicatorHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes configures all replicator routes.
func (h *ReplicatorHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/pull", h.HandlePull).Methods(http.MethodPost)
	r.HandleFunc("/v1/databases/{name}/introspect", h.HandleIntrospect).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)
}

// HandlePull dispatches one pull request to the named database.
func (h *ReplicatorHandler) HandlePull(w http.ResponseWriter, r *http.Request) {
	var req model.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Malformed pull request", zap.Error(err))
		h.writeJSON(w, http.StatusBadRequest,
			&model.PullResponse{Status: model.PullStatusServerError})
		return
	}
	if req.DBName == "" {
		h.writeJSON(w, http.StatusBadRequest,
			&model.PullResponse{Status: model.PullStatusServerError})
		return
	}

	resp := h.service.ServePull(r.Context(), &req)
	h.writeJSON(w, httpStatusFor(resp.Status), resp)
}

// HandleIntrospect returns the plain-text state of one database.
func (h *ReplicatorHandler) HandleIntrospect(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	state, err := h.service.Introspect(name)
	if err != nil {
		status := http.StatusInternalServerError
		if re, ok := err.(*errors.ReplicatorError); ok {
			status = re.HTTPStatus()
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, state)
}

// HandleHealth reports service liveness.
func (h *ReplicatorHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

func (h *ReplicatorHandler) writeJSON(w http.ResponseWriter, status int, resp *model.PullResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode pull response", zap.Error(err))
	}
}

func httpStatusFor(status model.PullStatus) int {
	switch status {
	case model.PullStatusOK:
		return http.StatusOK
	case model.PullStatusDBNotFound:
		return http.StatusNotFound
	case model.PullStatusWaitingOnUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
