package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/service"
)

// BufferFactory creates the lookahead buffer of a new session.
type BufferFactory func(opts domain.FeedOptions) *service.Buffer

// FeedHandler serves feed sessions. Each session owns one lookahead buffer and
// expires after the configured idle time.
type FeedHandler struct {
	newBuffer BufferFactory
	catalogA  domain.Catalog
	catalogB  domain.Catalog
	defaults  domain.FeedOptions
	ttl       time.Duration
	sessions  *gocache.Cache
}

// NewFeedHandler creates a FeedHandler. The catalogs resolve deep-link seeds.
func NewFeedHandler(newBuffer BufferFactory, a, b domain.Catalog, defaults domain.FeedOptions, ttl time.Duration) *FeedHandler {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FeedHandler{
		newBuffer: newBuffer,
		catalogA:  a,
		catalogB:  b,
		defaults:  defaults,
		ttl:       ttl,
		sessions:  gocache.New(ttl, ttl/2),
	}
}

// Register adds the feed routes to mux.
func (h *FeedHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/feed", h.Create)
	mux.HandleFunc("GET /api/feed/{id}", h.Get)
	mux.HandleFunc("POST /api/feed/{id}/next", h.Next)
	mux.HandleFunc("POST /api/feed/{id}/smart-next", h.SmartNext)
	mux.HandleFunc("POST /api/feed/{id}/previous", h.Previous)
	mux.HandleFunc("POST /api/feed/{id}/jump", h.Jump)
	mux.HandleFunc("POST /api/feed/{id}/insert", h.Insert)
}

// SessionCount returns the number of live sessions.
func (h *FeedHandler) SessionCount() int {
	return h.sessions.ItemCount()
}

type createFeedRequest struct {
	Options        *domain.FeedOptions `json:"options,omitempty"`
	SeedCatalogAID string              `json:"seedCatalogAId,omitempty"`
	SeedCatalogBID string              `json:"seedCatalogBId,omitempty"`
}

type feedResponse struct {
	ID       string `json:"id"`
	Advanced bool   `json:"advanced"`
	service.Snapshot
}

// Create starts a session, seeds it from a deep link when one resolves,
// bootstraps the first record and schedules the lookahead top-up.
func (h *FeedHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFeedRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	opts := h.options(req.Options)
	buf := h.newBuffer(opts)

	if seed := h.resolveSeed(r.Context(), req); seed != nil {
		buf.Seed(*seed)
	}
	_, ok := buf.Bootstrap(r.Context())
	buf.Prefetch()

	id := uuid.NewString()
	h.sessions.Set(id, buf, h.ttl)
	slog.Info("Feed session created", "session", id, "country", opts.CountryCode(), "language", opts.LanguageTag(), "bootstrapped", ok)

	writeJSON(w, http.StatusCreated, feedResponse{ID: id, Advanced: ok, Snapshot: buf.Snapshot()})
}

// Get returns the session state.
func (h *FeedHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, buf, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, feedResponse{ID: id, Snapshot: buf.Snapshot()})
}

// Next advances within the resident window only.
func (h *FeedHandler) Next(w http.ResponseWriter, r *http.Request) {
	id, buf, ok := h.session(w, r)
	if !ok {
		return
	}
	_, advanced := buf.Next()
	writeJSON(w, http.StatusOK, feedResponse{ID: id, Advanced: advanced, Snapshot: buf.Snapshot()})
}

// SmartNext advances, falling back to the cache and then the pipeline.
func (h *FeedHandler) SmartNext(w http.ResponseWriter, r *http.Request) {
	id, buf, ok := h.session(w, r)
	if !ok {
		return
	}
	_, advanced := buf.SmartNext(r.Context())
	if !advanced {
		slog.Info("Feed exhausted", "session", id)
	}
	writeJSON(w, http.StatusOK, feedResponse{ID: id, Advanced: advanced, Snapshot: buf.Snapshot()})
}

// Previous moves back in the session history.
func (h *FeedHandler) Previous(w http.ResponseWriter, r *http.Request) {
	id, buf, ok := h.session(w, r)
	if !ok {
		return
	}
	_, moved := buf.Previous()
	writeJSON(w, http.StatusOK, feedResponse{ID: id, Advanced: moved, Snapshot: buf.Snapshot()})
}

// Jump moves the cursor to the index given by the "index" query parameter.
func (h *FeedHandler) Jump(w http.ResponseWriter, r *http.Request) {
	id, buf, ok := h.session(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	if _, err := buf.JumpTo(index); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, feedResponse{ID: id, Advanced: true, Snapshot: buf.Snapshot()})
}

// Insert splices the record in the body after the cursor and shows it.
func (h *FeedHandler) Insert(w http.ResponseWriter, r *http.Request) {
	id, buf, ok := h.session(w, r)
	if !ok {
		return
	}
	var rec domain.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid record", http.StatusBadRequest)
		return
	}
	if _, err := buf.InsertNext(rec); err != nil {
		if errors.Is(err, service.ErrUnusableRecord) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Insert failed", "session", id, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, feedResponse{ID: id, Advanced: true, Snapshot: buf.Snapshot()})
}

// session looks the session up and refreshes its expiry.
func (h *FeedHandler) session(w http.ResponseWriter, r *http.Request) (string, *service.Buffer, bool) {
	id := r.PathValue("id")
	v, found := h.sessions.Get(id)
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return "", nil, false
	}
	buf := v.(*service.Buffer)
	h.sessions.Set(id, buf, h.ttl)
	return id, buf, true
}

// options fills unset request options from the defaults.
func (h *FeedHandler) options(req *domain.FeedOptions) domain.FeedOptions {
	if req == nil {
		return h.defaults
	}
	opts := *req
	if strings.TrimSpace(opts.Country) == "" {
		opts.Country = h.defaults.Country
	}
	if strings.TrimSpace(opts.Language) == "" {
		opts.Language = h.defaults.Language
	}
	if opts.PreloadAhead <= 0 {
		opts.PreloadAhead = h.defaults.PreloadAhead
	}
	return opts
}

// resolveSeed fetches the deep-linked record, catalog B first.
func (h *FeedHandler) resolveSeed(ctx context.Context, req createFeedRequest) *domain.Record {
	if id := strings.TrimSpace(req.SeedCatalogBID); id != "" && h.catalogB != nil {
		if rec := h.catalogB.FetchByID(ctx, id); rec != nil {
			return rec
		}
		slog.Warn("Deep-link seed not found", "catalog", h.catalogB.ID(), "id", id)
	}
	if id := strings.TrimSpace(req.SeedCatalogAID); id != "" && h.catalogA != nil {
		if rec := h.catalogA.FetchByID(ctx, id); rec != nil {
			return rec
		}
		slog.Warn("Deep-link seed not found", "catalog", h.catalogA.ID(), "id", id)
	}
	return nil
}
