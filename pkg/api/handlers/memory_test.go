package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/recall/pkg/api/middleware"
	"github.com/goclaw/recall/pkg/api/response"
	"github.com/goclaw/recall/pkg/embedding"
	"github.com/goclaw/recall/pkg/memory"
	memstore "github.com/goclaw/recall/pkg/storage/memory"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}

type memoryTestEnv struct {
	hub    *memory.MemoryHub
	router chi.Router
}

func setupMemoryHandler(t *testing.T, opts ...memory.Option) *memoryTestEnv {
	t.Helper()

	retriever, err := memory.NewHybridRetriever(embedding.NewHash(64), opts...)
	require.NoError(t, err)
	t.Cleanup(retriever.Close)

	hub := memory.NewMemoryHub(memory.HubConfig{}, memstore.NewMemoryStorage(), retriever, nil)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })

	h := NewMemoryHandler(hub, memory.DefaultRetrieveOptions(), nopLogger{})
	r := chi.NewRouter()
	r.Route("/api/v1/users/{userID}", h.RegisterRoutes)

	return &memoryTestEnv{hub: hub, router: r}
}

func (e *memoryTestEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorDetail {
	t.Helper()
	var resp response.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp), w.Body.String())
	return resp.Error
}

func (e *memoryTestEnv) memorize(t *testing.T, user, text string) string {
	t.Helper()
	id, err := e.hub.Memorize(context.Background(), user, text, nil)
	require.NoError(t, err)
	return id
}

func TestMemoryHandler_Memorize(t *testing.T) {
	env := setupMemoryHandler(t)

	w := env.do(t, http.MethodPost, "/api/v1/users/u1/records",
		`{"text":"postgres runs on port 5432","metadata":{"type":"fact"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp memorizeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)

	stats, err := env.hub.Stats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Keyword.Documents)
}

func TestMemoryHandler_Memorize_Validation(t *testing.T) {
	env := setupMemoryHandler(t)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"empty text", `{"text":""}`, response.ErrCodeValidationFailed},
		{"unknown field", `{"text":"x","vector":[1,2]}`, response.ErrCodeBadRequest},
		{"malformed json", `{"text":`, response.ErrCodeBadRequest},
		{"empty body", ``, response.ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/users/u1/records", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
}

func TestMemoryHandler_Memorize_ValidationDetails(t *testing.T) {
	env := setupMemoryHandler(t)

	w := env.do(t, http.MethodPost, "/api/v1/users/u1/records", `{"text":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, "required", detail.Details["memorizeRequest.Text"])
}

func TestMemoryHandler_BatchMemorize(t *testing.T) {
	env := setupMemoryHandler(t)

	w := env.do(t, http.MethodPost, "/api/v1/users/u1/records/batch",
		`{"records":[{"text":"redis caches sessions"},{"text":"kafka carries events","metadata":{"scope":"infra"}}]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp batchMemorizeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.IDs, 2)

	w = env.do(t, http.MethodPost, "/api/v1/users/u1/records/batch", `{"records":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/users/u1/records/batch", `{"records":[{"text":""}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemoryHandler_Upsert(t *testing.T) {
	env := setupMemoryHandler(t)

	w := env.do(t, http.MethodPut, "/api/v1/users/u1/records/note-1", `{"text":"deploys happen on friday"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/v1/users/u1/records/note-1", `{"text":"deploys happen on tuesday"}`)
	require.Equal(t, http.StatusOK, w.Code)

	records, total, err := env.hub.List(context.Background(), "u1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "note-1", records[0].ID)
	assert.Equal(t, "deploys happen on tuesday", records[0].Text)
}

func TestMemoryHandler_Retrieve(t *testing.T) {
	env := setupMemoryHandler(t)
	target := env.memorize(t, "u1", "postgres database runs on port 5432")
	env.memorize(t, "u1", "the office coffee machine is broken")
	env.memorize(t, "u2", "postgres for another user")

	w := env.do(t, http.MethodPost, "/api/v1/users/u1/retrieve", `{"query":"postgres port","top_k":5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp retrieveResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, target, resp.Results[0].ID)
	for _, res := range resp.Results {
		assert.Equal(t, "u1", res.Record.UserID, "results must stay within the user")
	}
	require.NotNil(t, resp.Metrics)
	assert.NotEmpty(t, resp.Metrics.QueryID)
	assert.Equal(t, resp.Metrics.QueryID, w.Header().Get(middleware.QueryIDHeader))
	assert.Equal(t, len(resp.Results), resp.Metrics.ResultCount)
}

// overlapScorer scores a text by how many query words it contains.
type overlapScorer struct{}

func (overlapScorer) Ready() bool { return true }

func (overlapScorer) Score(_ context.Context, query string, texts []string) ([]float64, error) {
	words := strings.Fields(strings.ToLower(query))
	out := make([]float64, len(texts))
	for i, text := range texts {
		for _, w := range words {
			if strings.Contains(strings.ToLower(text), w) {
				out[i]++
			}
		}
	}
	return out, nil
}

func TestMemoryHandler_Retrieve_PartialOptionsKeepDefaults(t *testing.T) {
	env := setupMemoryHandler(t, memory.WithScorer(overlapScorer{}))
	env.memorize(t, "u1", "postgres database runs on port 5432")
	env.memorize(t, "u1", "the office coffee machine is broken")

	tests := []struct {
		name string
		body string
	}{
		{"no options", `{"query":"postgres port"}`},
		{"partial options", `{"query":"postgres port","options":{"expand_query":true}}`},
		{"source weights only", `{"query":"postgres port","options":{"source_weights":{"vector":0.5}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/users/u1/retrieve", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var resp retrieveResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			require.NotNil(t, resp.Metrics)
			assert.False(t, resp.Metrics.FallbackReranker, "omitted use_reranker must keep the default")
			require.NotEmpty(t, resp.Results)
		})
	}

	w := env.do(t, http.MethodPost, "/api/v1/users/u1/retrieve", `{"query":"postgres port","options":{"use_reranker":false}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp retrieveResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Metrics)
	assert.True(t, resp.Metrics.FallbackReranker, "explicit use_reranker=false disables the scorer")
}

func TestMemoryHandler_Retrieve_EmptyQuery(t *testing.T) {
	env := setupMemoryHandler(t)

	w := env.do(t, http.MethodPost, "/api/v1/users/nobody/retrieve", `{"query":"   "}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"results":[]`)
}

func TestMemoryHandler_Retrieve_Errors(t *testing.T) {
	env := setupMemoryHandler(t)
	env.memorize(t, "u1", "postgres runs on port 5432")

	tests := []struct {
		name       string
		user       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"index not built", "ghost", `{"query":"postgres"}`, http.StatusConflict, response.ErrCodeIndexNotBuilt},
		{"top k too large", "u1", `{"query":"postgres","top_k":5000}`, http.StatusBadRequest, response.ErrCodeValidationFailed},
		{"negative top k", "u1", `{"query":"postgres","top_k":-1}`, http.StatusBadRequest, response.ErrCodeValidationFailed},
		{"bad source weight", "u1", `{"query":"postgres","options":{"source_weights":{"bogus":1}}}`, http.StatusBadRequest, response.ErrCodeValidationFailed},
		{"bad source cap", "u1", `{"query":"postgres","options":{"bm25_top_k":2000}}`, http.StatusBadRequest, response.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/users/"+tt.user+"/retrieve", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
}

func TestMemoryHandler_Retrieve_CustomOptions(t *testing.T) {
	env := setupMemoryHandler(t)
	env.memorize(t, "u1", "the db is slow today")

	w := env.do(t, http.MethodPost, "/api/v1/users/u1/retrieve",
		`{"query":"db","options":{"expand_query":true,"use_reranker":false,"source_weights":{"keyword":2}}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp retrieveResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Metrics.FallbackReranker)
}

func TestMemoryHandler_List(t *testing.T) {
	env := setupMemoryHandler(t)
	for _, text := range []string{"alpha note", "beta note", "gamma note"} {
		env.memorize(t, "u1", text)
	}

	w := env.do(t, http.MethodGet, "/api/v1/users/u1/records?limit=2&offset=1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp listResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Records, 2)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, 1, resp.Offset)

	w = env.do(t, http.MethodGet, "/api/v1/users/u1/records?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/users/empty/records", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"records":[]`)
}

func TestMemoryHandler_Forget(t *testing.T) {
	env := setupMemoryHandler(t)
	id := env.memorize(t, "u1", "temporary note about staging")
	env.memorize(t, "u1", "permanent note")

	w := env.do(t, http.MethodDelete, "/api/v1/users/u1/records", `{"ids":["`+id+`","missing"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp deleteResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Deleted)

	stats, err := env.hub.Stats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Keyword.Documents)

	w = env.do(t, http.MethodDelete, "/api/v1/users/u1/records", `{"ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemoryHandler_DeleteUser(t *testing.T) {
	env := setupMemoryHandler(t)
	env.memorize(t, "u1", "first")
	env.memorize(t, "u1", "second")

	w := env.do(t, http.MethodDelete, "/api/v1/users/u1/", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp deleteResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Deleted)

	w = env.do(t, http.MethodPost, "/api/v1/users/u1/retrieve", `{"query":"first"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMemoryHandler_Stats(t *testing.T) {
	env := setupMemoryHandler(t)
	env.memorize(t, "u1", "kubernetes cluster upgrade")

	w := env.do(t, http.MethodGet, "/api/v1/users/u1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats memory.IndexStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, "u1", stats.UserID)
	assert.Equal(t, 1, stats.Keyword.Documents)
	assert.Equal(t, 1, stats.Vector.Documents)
	assert.Equal(t, 64, stats.Vector.Dimension)
}

func TestMemoryHandler_RegisterGraph(t *testing.T) {
	env := setupMemoryHandler(t)
	id := env.memorize(t, "u1", "alice leads the platform team")

	graph := `{"nodes":[{"id":"alice","type":"person","name":"Alice","record_ids":["` + id + `"]},` +
		`{"id":"platform","type":"team","name":"Platform"}],` +
		`"edges":[{"from":"alice","to":"platform","kind":"leads","confidence":0.9}]}`
	w := env.do(t, http.MethodPut, "/api/v1/users/u1/graph", graph)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	stats, err := env.hub.Stats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Graph.Nodes)
	assert.Equal(t, 1, stats.Graph.Edges)

	w = env.do(t, http.MethodPost, "/api/v1/users/u1/retrieve", `{"query":"who is alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp retrieveResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, id, resp.Results[0].ID)
	assert.Contains(t, resp.Results[0].SourceScores, "graph")
}

func TestMemoryHandler_RegisterGraph_Invalid(t *testing.T) {
	env := setupMemoryHandler(t)

	w := env.do(t, http.MethodPut, "/api/v1/users/u1/graph",
		`{"nodes":[{"id":"a","type":"person","name":"A"}],"edges":[{"from":"a","to":"missing","kind":"knows","confidence":1}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, response.ErrCodeBadRequest, decodeError(t, w).Code)
}

func TestMemoryHandler_Reindex(t *testing.T) {
	env := setupMemoryHandler(t)
	env.memorize(t, "u1", "one")
	env.memorize(t, "u1", "two words")

	w := env.do(t, http.MethodPost, "/api/v1/users/u1/reindex", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stats memory.IndexStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Keyword.Documents)
}

func TestMemoryHandler_PayloadTooLarge(t *testing.T) {
	env := setupMemoryHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/u1/records",
		strings.NewReader(`{"text":"`+strings.Repeat("a", 128)+`"}`))
	w := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(w, req.Body, 32)
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, response.ErrCodePayloadTooLarge, decodeError(t, w).Code)
}
