package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"audiobook-feed/internal/service"
)

// CacheAdmin exposes the administrative operations of the overflow cache.
type CacheAdmin interface {
	Count(ctx context.Context) (int, error)
	CountUsed(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Handler handles the search, cache and health endpoints.
type Handler struct {
	service *service.Service
	cache   CacheAdmin
}

// NewHandler creates a new Handler with the given service. cache may be nil.
func NewHandler(service *service.Service, cache CacheAdmin) *Handler {
	return &Handler{service: service, cache: cache}
}

// Register adds the search, cache and health routes to mux. Each catalog gets
// its own search path.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/search", h.Search)
	for _, c := range h.service.Catalogs() {
		catalogID := c.ID()
		mux.HandleFunc("GET /api/"+catalogID+"/search", func(w http.ResponseWriter, r *http.Request) {
			h.SearchSingle(w, r, catalogID)
		})
		slog.Debug("Registered catalog endpoint", "catalog", catalogID)
	}
	mux.HandleFunc("GET /api/cache/count", h.CacheCount)
	mux.HandleFunc("DELETE /api/cache", h.CacheClear)
	mux.HandleFunc("GET /health", h.Health)
}

// extractQuery reads the search query from the request, trying "q" first then "query".
func extractQuery(r *http.Request) string {
	if q := r.URL.Query().Get("q"); q != "" {
		return q
	}
	return r.URL.Query().Get("query")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// Search handles aggregated search requests across all catalogs.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := extractQuery(r)
	if query == "" {
		slog.Warn("Search request missing query")
		http.Error(w, "missing query", http.StatusBadRequest)
		return
	}

	slog.Info("Handling search request", "query", query)
	writeJSON(w, http.StatusOK, h.service.Search(r.Context(), query))
}

// SearchSingle handles search requests for a specific catalog.
func (h *Handler) SearchSingle(w http.ResponseWriter, r *http.Request, catalogID string) {
	query := extractQuery(r)
	if query == "" {
		slog.Warn("SearchSingle request missing query", "catalog", catalogID)
		http.Error(w, "missing query", http.StatusBadRequest)
		return
	}

	slog.Info("Handling single catalog search request", "catalog", catalogID, "query", query)

	results, err := h.service.SearchByCatalogID(r.Context(), catalogID, query)
	if err != nil {
		slog.Error("Single catalog search failed", "catalog", catalogID, "error", err, "query", query)
		http.Error(w, "catalog not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type cacheCountResponse struct {
	Count int `json:"count"`
	Used  int `json:"used"`
}

// CacheCount reports the number of overflow cache entries.
func (h *Handler) CacheCount(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		http.Error(w, "cache disabled", http.StatusServiceUnavailable)
		return
	}
	count, err := h.cache.Count(r.Context())
	if err != nil {
		slog.Error("Cache count failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	used, err := h.cache.CountUsed(r.Context())
	if err != nil {
		slog.Error("Cache used count failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cacheCountResponse{Count: count, Used: used})
}

// CacheClear deletes every overflow cache entry.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		http.Error(w, "cache disabled", http.StatusServiceUnavailable)
		return
	}
	if err := h.cache.Clear(r.Context()); err != nil {
		slog.Error("Cache clear failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	slog.Info("Overflow cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status   string          `json:"status"`
	Catalogs map[string]bool `json:"catalogs"`
}

// Health reports liveness and the breaker state of each catalog. The service
// stays healthy while catalogs are down; the feed degrades to cache and fallback.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Catalogs: make(map[string]bool)}
	for _, c := range h.service.Catalogs() {
		resp.Catalogs[c.ID()] = c.Available()
	}
	writeJSON(w, http.StatusOK, resp)
}
