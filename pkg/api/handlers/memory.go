package handlers

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/goclaw/recall/pkg/api/middleware"
	"github.com/goclaw/recall/pkg/api/response"
	"github.com/goclaw/recall/pkg/memory"
)

// DefaultTopK applies to retrieve requests that omit top_k.
const DefaultTopK = 10

var validate = validator.New()

// MemoryHandler serves the per-user record and retrieval endpoints.
type MemoryHandler struct {
	hub      memory.Hub
	defaults memory.RetrieveOptions
	logger   memoryLogger
}

type memoryLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewMemoryHandler creates a new memory handler. defaults applies to
// retrieve requests that carry no options of their own.
func NewMemoryHandler(hub memory.Hub, defaults memory.RetrieveOptions, log memoryLogger) *MemoryHandler {
	return &MemoryHandler{
		hub:      hub,
		defaults: defaults,
		logger:   log,
	}
}

// RegisterRoutes mounts the handler on a router scoped to /users/{userID}.
func (h *MemoryHandler) RegisterRoutes(r chi.Router) {
	r.Post("/retrieve", h.Retrieve)
	r.Get("/stats", h.Stats)
	r.Post("/reindex", h.Reindex)
	r.Put("/graph", h.RegisterGraph)
	r.Delete("/", h.DeleteUser)

	r.Route("/records", func(r chi.Router) {
		r.Post("/", h.Memorize)
		r.Get("/", h.List)
		r.Delete("/", h.Forget)
		r.Post("/batch", h.BatchMemorize)
		r.Put("/{recordID}", h.Upsert)
	})
}

// --- Request/Response types ---

type retrieveRequest struct {
	Query   string                  `json:"query"`
	TopK    int                     `json:"top_k" validate:"gte=0,lte=1000"`
	Options *memory.RetrieveOptions `json:"options,omitempty"`
}

type retrieveResponse struct {
	Results []memory.RerankedResult  `json:"results"`
	Metrics *memory.RetrievalMetrics `json:"metrics,omitempty"`
}

type memorizeRequest struct {
	Text     string            `json:"text" validate:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type memorizeResponse struct {
	ID string `json:"id"`
}

type batchMemorizeRequest struct {
	Records []memorizeRequest `json:"records" validate:"required,min=1,max=500,dive"`
}

type batchMemorizeResponse struct {
	IDs []string `json:"ids"`
}

type forgetRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

type listResponse struct {
	Records []memory.Record `json:"records"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// Retrieve handles POST /api/v1/users/{userID}/retrieve
func (h *MemoryHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	// Options are decoded over the defaults so omitted fields keep them.
	defaults := h.defaults
	defaults.SourceWeights = maps.Clone(h.defaults.SourceWeights)
	req := retrieveRequest{Options: &defaults}
	if !h.decode(w, r, &req) {
		return
	}

	topK := req.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	opts := h.defaults
	if req.Options != nil {
		opts = *req.Options
	}

	results, metrics, err := h.hub.Retrieve(ctx, req.Query, userID, topK, opts)
	if err != nil {
		h.fail(w, r, "Failed to retrieve", err)
		return
	}
	if results == nil {
		results = []memory.RerankedResult{}
	}
	if metrics != nil && metrics.QueryID != "" {
		w.Header().Set(middleware.QueryIDHeader, metrics.QueryID)
	}

	response.JSON(w, http.StatusOK, retrieveResponse{Results: results, Metrics: metrics})
}

// Memorize handles POST /api/v1/users/{userID}/records
func (h *MemoryHandler) Memorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var req memorizeRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.hub.Memorize(ctx, userID, req.Text, req.Metadata)
	if err != nil {
		h.fail(w, r, "Failed to store record", err)
		return
	}

	response.JSON(w, http.StatusCreated, memorizeResponse{ID: id})
}

// BatchMemorize handles POST /api/v1/users/{userID}/records/batch
func (h *MemoryHandler) BatchMemorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var req batchMemorizeRequest
	if !h.decode(w, r, &req) {
		return
	}

	entries := make([]memory.BatchEntry, len(req.Records))
	for i, rec := range req.Records {
		entries[i] = memory.BatchEntry{Text: rec.Text, Metadata: rec.Metadata}
	}

	ids, err := h.hub.BatchMemorize(ctx, userID, entries)
	if err != nil {
		h.fail(w, r, "Failed to store records", err)
		return
	}

	response.JSON(w, http.StatusCreated, batchMemorizeResponse{IDs: ids})
}

// Upsert handles PUT /api/v1/users/{userID}/records/{recordID}
func (h *MemoryHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	recordID := chi.URLParam(r, "recordID")

	var req memorizeRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec := memory.Record{
		ID:       recordID,
		UserID:   userID,
		Text:     req.Text,
		Metadata: req.Metadata,
	}
	if err := h.hub.Upsert(ctx, rec); err != nil {
		h.fail(w, r, "Failed to upsert record", err)
		return
	}

	response.JSON(w, http.StatusOK, memorizeResponse{ID: recordID})
}

// List handles GET /api/v1/users/{userID}/records?limit=&offset=
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.invalid(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.invalid(w, r, err)
		return
	}

	records, total, err := h.hub.List(ctx, userID, limit, offset)
	if err != nil {
		h.fail(w, r, "Failed to list records", err)
		return
	}
	if records == nil {
		records = []memory.Record{}
	}

	response.JSON(w, http.StatusOK, listResponse{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// Forget handles DELETE /api/v1/users/{userID}/records
func (h *MemoryHandler) Forget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var req forgetRequest
	if !h.decode(w, r, &req) {
		return
	}

	count, err := h.hub.Forget(ctx, userID, req.IDs)
	if err != nil {
		h.fail(w, r, "Failed to delete records", err)
		return
	}

	response.JSON(w, http.StatusOK, deleteResponse{Deleted: count})
}

// DeleteUser handles DELETE /api/v1/users/{userID}
func (h *MemoryHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	count, err := h.hub.DeleteUser(ctx, userID)
	if err != nil {
		h.fail(w, r, "Failed to delete user", err)
		return
	}

	h.logger.Info("User deleted", "user_id", userID, "records", count)
	response.JSON(w, http.StatusOK, deleteResponse{Deleted: count})
}

// Stats handles GET /api/v1/users/{userID}/stats
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	stats, err := h.hub.Stats(ctx, userID)
	if err != nil {
		h.fail(w, r, "Failed to get stats", err)
		return
	}

	response.JSON(w, http.StatusOK, stats)
}

// RegisterGraph handles PUT /api/v1/users/{userID}/graph
func (h *MemoryHandler) RegisterGraph(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var data memory.GraphData
	if !h.decode(w, r, &data) {
		return
	}

	graph, err := memory.BuildGraph(data)
	if err != nil {
		h.fail(w, r, "Invalid graph", err)
		return
	}
	if err := h.hub.RegisterGraph(userID, graph); err != nil {
		h.fail(w, r, "Failed to register graph", err)
		return
	}

	response.NoContent(w)
}

// Reindex handles POST /api/v1/users/{userID}/reindex
func (h *MemoryHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	if err := h.hub.Reindex(ctx, userID); err != nil {
		h.fail(w, r, "Failed to reindex", err)
		return
	}

	stats, err := h.hub.Stats(ctx, userID)
	if err != nil {
		h.fail(w, r, "Failed to get stats", err)
		return
	}
	response.JSON(w, http.StatusOK, stats)
}

// decode reads and validates a JSON body, writing the error response
// itself when it returns false.
func (h *MemoryHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := response.Decode(r, dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(w, http.StatusRequestEntityTooLarge, response.ErrCodePayloadTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit), middleware.GetRequestID(r.Context()))
			return false
		}
		h.invalid(w, r, err)
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make(map[string]any, len(fieldErrs))
			for _, fe := range fieldErrs {
				details[fe.Namespace()] = fe.Tag()
			}
			response.ErrorWithDetails(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
				"Validation failed", details, middleware.GetRequestID(r.Context()))
			return false
		}
		h.invalid(w, r, err)
		return false
	}
	return true
}

func (h *MemoryHandler) invalid(w http.ResponseWriter, r *http.Request, err error) {
	response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, err.Error(), middleware.GetRequestID(r.Context()))
}

// fail logs server-side failures and maps err to its HTTP status.
func (h *MemoryHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if response.HTTPStatusFromError(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, "user_id", chi.URLParam(r, "userID"), "error", err,
			"request_id", middleware.GetRequestID(r.Context()))
	}
	response.HandleError(w, err, middleware.GetRequestID(r.Context()))
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", response.ErrInvalidInput, key)
	}
	return n, nil
}
