package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/provisioning"
	"github.com/imamik/gsclone/internal/workflow"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Service is the subset of the orchestrator served over HTTP.
type Service interface {
	Provision(ctx context.Context, req provisioning.Request) (*provisioning.Outcome, error)
	Accept(token string)
	Resume(ctx context.Context, guestID int) (*provisioning.Outcome, error)
	GetWorkflowStatus(ctx context.Context, guestID int) (*provisioning.WorkflowStatus, error)
	GetLiveProgress(token string) (progress.Entry, error)
	Decommission(ctx context.Context, guestID int, ownerID string) (*provisioning.DecommissionResult, error)
	ListGuests(ctx context.Context, ownerID string) ([]*workflow.ManagedGuest, error)
}

// Handler routes API requests to a Service.
type Handler struct {
	svc    Service
	base   context.Context
	logger logr.Logger
	mux    *http.ServeMux

	// background tracks detached work so shutdown can wait for it.
	background sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithBaseContext sets the context whose cancellation aborts detached
// work. Defaults to context.Background.
func WithBaseContext(ctx context.Context) Option {
	return func(h *Handler) { h.base = ctx }
}

// WithLogger sets the request logger.
func WithLogger(l logr.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler builds the API handler.
func NewHandler(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		base:   context.Background(),
		logger: logr.Discard(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.route("POST /v1/guests", h.provision)
	h.route("GET /v1/guests", h.listGuests)
	h.route("DELETE /v1/guests/{id}", h.decommission)
	h.route("GET /v1/workflows/{id}", h.workflowStatus)
	h.route("POST /v1/workflows/{id}/resume", h.resume)
	h.route("GET /v1/progress/{token}", h.liveProgress)
	h.route("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h
}

func (h *Handler) route(pattern string, fn http.HandlerFunc) {
	h.mux.Handle(pattern, h.instrument(pattern, fn))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Wait blocks until detached work has finished.
func (h *Handler) Wait() {
	h.background.Wait()
}

// detach returns a context that keeps r's values but not its cancellation.
// It ends with the handler's base context.
func (h *Handler) detach(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(h.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// provisionResponse is returned by POST /v1/guests.
type provisionResponse struct {
	*provisioning.Outcome
	Error string `json:"error,omitempty"`
}

func (h *Handler) provision(w http.ResponseWriter, r *http.Request) {
	var req provisioning.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Token == "" {
		req.Token = progress.NewToken()
	}

	ctx, cancel := h.detach(r)
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if err := req.Validate(); err != nil {
			cancel()
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", provisioning.ErrInvalidRequest, err))
			return
		}
		h.svc.Accept(req.Token)
		h.background.Add(1)
		go func() {
			defer h.background.Done()
			defer cancel()
			if _, err := h.svc.Provision(ctx, req); err != nil {
				logging.FromContext(ctx).Info("provisioning ended with an error", "token", req.Token, "error", err.Error())
			}
		}()
		w.Header().Set("Location", "/v1/progress/"+req.Token)
		writeJSON(w, http.StatusAccepted, provisionResponse{Outcome: &provisioning.Outcome{
			Token:  req.Token,
			Status: workflow.StatusInProgress,
		}})
		return
	}

	defer cancel()
	out, err := h.svc.Provision(ctx, req)
	writeOutcome(w, out, err, http.StatusCreated)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.detach(r)
	defer cancel()
	out, err := h.svc.Resume(ctx, id)
	writeOutcome(w, out, err, http.StatusOK)
}

func (h *Handler) workflowStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	status, err := h.svc.GetWorkflowStatus(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) liveProgress(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if !progress.ValidToken(token) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid token %q", token))
		return
	}
	e, err := h.svc.GetLiveProgress(token)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) listGuests(w http.ResponseWriter, r *http.Request) {
	guests, err := h.svc.ListGuests(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if guests == nil {
		guests = []*workflow.ManagedGuest{}
	}
	writeJSON(w, http.StatusOK, guests)
}

func (h *Handler) decommission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.detach(r)
	defer cancel()
	res, err := h.svc.Decommission(ctx, id, r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// instrument adds a request-scoped logger and records request metrics.
func (h *Handler) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		logger := h.logger.WithValues("method", r.Method, "path", r.URL.Path)
		r = r.WithContext(logging.IntoContext(r.Context(), logger))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		recordRequestMetric(route, rec.status, time.Since(started).Seconds())
		logger.V(1).Info("request served", "status", rec.status, "duration", time.Since(started).String())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid guest id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// writeOutcome writes a Provision or Resume result. The outcome travels
// with errors so callers always see the guest id and canRetry.
func writeOutcome(w http.ResponseWriter, out *provisioning.Outcome, err error, okStatus int) {
	if err == nil {
		writeJSON(w, okStatus, provisionResponse{Outcome: out})
		return
	}
	if out == nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, statusFor(err), provisionResponse{Outcome: out, Error: err.Error()})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ http.Handler = (*Handler)(nil)
