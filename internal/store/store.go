// Package store persists the overflow cache: enriched records the feed has
// not shown yet, plus previously shown ones kept for reuse.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"audiobook-feed/internal/domain"
	"audiobook-feed/internal/metrics"
)

// DefaultReuseThreshold is the number of used entries required before popping
// from the used partition is allowed.
const DefaultReuseThreshold = 40

var (
	// ErrPlaceholder rejects placeholder records, which are never persisted.
	ErrPlaceholder = errors.New("placeholder records cannot be cached")
	// ErrInvalidRecord rejects records without identity or title.
	ErrInvalidRecord = errors.New("record has no identity or title")
)

// LanguageIDs are the catalog identifiers of a work in one language.
type LanguageIDs struct {
	CatalogAID int64  `json:"catalogIdA,omitempty"`
	CatalogBID string `json:"catalogIdB,omitempty"`
}

// Entry is one cached record with its usage state.
type Entry struct {
	Record     domain.Record
	Used       bool
	LastUsedAt *time.Time
	CreatedAt  time.Time
	Languages  map[string]LanguageIDs
}

// PopRequest selects the entry returned by PopBestCandidate.
type PopRequest struct {
	Language string
	Genres   []string
	// AllowReused prefers previously shown entries, subject to the reuse threshold.
	AllowReused bool
	// Exclude lists canonical keys that must not be returned.
	Exclude []string
}

// Store manages the overflow cache backed by SQLite.
type Store struct {
	db             *sql.DB
	path           string
	lock           *flock.Flock
	reuseThreshold int
	now            func() time.Time
	metrics        *metrics.Metrics

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures a Store.
type Option func(*Store)

// WithReuseThreshold overrides DefaultReuseThreshold.
func WithReuseThreshold(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.reuseThreshold = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRand fixes the random source of fresh selection.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) { s.rnd = r }
}

// WithMetrics records pops.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Open initializes or connects to the cache database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{
		db:             db,
		path:           path,
		lock:           flock.New(path + ".lock"),
		reuseThreshold: DefaultReuseThreshold,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// InsertIfAbsent stores rec under its canonical key with a language mapping
// for lang. An existing entry is left untouched; the result reports whether
// a row was written.
func (s *Store) InsertIfAbsent(ctx context.Context, rec domain.Record, lang string) (bool, error) {
	if rec.IsPlaceholder {
		return false, ErrPlaceholder
	}
	if !rec.Valid() {
		return false, ErrInvalidRecord
	}
	if lang = domain.NormalizeLanguage(lang); lang == "" {
		lang = "en"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := insertEntry(ctx, s.db, rec, lang, s.timestamp())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, rec domain.Record, lang, createdAt string) (sql.Result, error) {
	rec.IsFromCache = false
	rec.IsPlaceholder = false

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	languagesJSON, err := json.Marshal(map[string]LanguageIDs{
		lang: {CatalogAID: rec.CatalogAID, CatalogBID: rec.CatalogBID},
	})
	if err != nil {
		return nil, fmt.Errorf("encode languages: %w", err)
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO overflow_entries (id, genre, used, last_used_at, created_at, languages_json, record_json)
         VALUES (?, ?, 0, NULL, ?, ?, ?)
         ON CONFLICT(id) DO NOTHING`,
		rec.Key(), rec.Genre, createdAt, string(languagesJSON), string(recordJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry %s: %w", rec.Key(), err)
	}
	return res, nil
}

// SeedIfEmpty bulk-inserts records as unused English entries when the cache
// holds nothing. Concurrent processes sharing the database are serialized
// with a file lock. It returns the number of rows written.
func (s *Store) SeedIfEmpty(ctx context.Context, records []domain.Record) (int, error) {
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return 0, fmt.Errorf("acquire seed lock: %w", err)
	}
	if !locked {
		return 0, errors.New("seed lock not acquired")
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("Failed to release seed lock", "path", s.lock.Path(), "error", err)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM overflow_entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	createdAt := s.timestamp()
	written := 0
	for _, rec := range records {
		if rec.IsPlaceholder || !rec.Valid() {
			continue
		}
		res, err := insertEntry(ctx, tx, rec, "en", createdAt)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	slog.Info("Seeded overflow cache", "count", written)
	return written, nil
}

// PopBestCandidate selects, marks and returns one entry, or nil when no
// eligible entry exists. The returned record carries the identifiers mapped
// for the requested language and IsFromCache.
func (s *Store) PopBestCandidate(ctx context.Context, req PopRequest) (*domain.Record, error) {
	lang := domain.NormalizeLanguage(req.Language)
	if lang == "" {
		lang = "en"
	}
	exclude := make(map[string]bool, len(req.Exclude))
	for _, k := range req.Exclude {
		exclude[k] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pop tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var usedCount int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM overflow_entries WHERE used = 1").Scan(&usedCount); err != nil {
		return nil, fmt.Errorf("count used entries: %w", err)
	}
	reuseOK := usedCount >= s.reuseThreshold

	// Fast scrolling prefers the used partition; otherwise it is only
	// reached once the fresh partition has nothing left.
	partitions := []bool{false}
	switch {
	case req.AllowReused && reuseOK:
		partitions = []bool{true, false}
	case reuseOK:
		partitions = []bool{false, true}
	}

	for _, reused := range partitions {
		cands, err := loadCandidates(ctx, tx, reused, exclude)
		if err != nil {
			return nil, err
		}
		chosen, tierName, ok := choose(cands, lang, req.Genres, reused, s.rnd)
		if !ok {
			continue
		}

		rec, err := s.markUsed(ctx, tx, chosen, reused)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit pop: %w", err)
		}

		if ids, ok := chosen.languages[lang]; ok {
			if ids.CatalogAID != 0 {
				rec.CatalogAID = ids.CatalogAID
			}
			if ids.CatalogBID != "" {
				rec.CatalogBID = ids.CatalogBID
			}
		}
		rec.IsFromCache = true

		partition := PartitionFresh
		if reused {
			partition = PartitionReused
		}
		s.metrics.CachePop(partition, tierName)
		return &rec, nil
	}
	return nil, nil
}

func loadCandidates(ctx context.Context, tx *sql.Tx, used bool, exclude map[string]bool) ([]candidate, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, genre, last_used_at, languages_json
         FROM overflow_entries WHERE used = ? ORDER BY created_at, id`,
		boolToInt(used),
	)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var (
			c             candidate
			lastUsed      sql.NullString
			languagesJSON string
		)
		if err := rows.Scan(&c.id, &c.genre, &lastUsed, &languagesJSON); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if exclude[c.id] {
			continue
		}
		c.lastUsedAt = parseTime(lastUsed)
		if err := json.Unmarshal([]byte(languagesJSON), &c.languages); err != nil {
			slog.Warn("Ignoring malformed language map", "id", c.id, "error", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) markUsed(ctx context.Context, tx *sql.Tx, c candidate, reused bool) (domain.Record, error) {
	var recordJSON string
	if err := tx.QueryRowContext(ctx, "SELECT record_json FROM overflow_entries WHERE id = ?", c.id).Scan(&recordJSON); err != nil {
		return domain.Record{}, fmt.Errorf("load entry %s: %w", c.id, err)
	}
	var rec domain.Record
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return domain.Record{}, fmt.Errorf("decode entry %s: %w", c.id, err)
	}

	now := s.timestamp()
	query := "UPDATE overflow_entries SET used = 1, last_used_at = ? WHERE id = ?"
	if reused {
		query = "UPDATE overflow_entries SET last_used_at = ? WHERE id = ?"
	}
	if _, err := tx.ExecContext(ctx, query, now, c.id); err != nil {
		return domain.Record{}, fmt.Errorf("mark entry %s: %w", c.id, err)
	}
	return rec, nil
}

// Clear deletes every entry.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM overflow_entries"); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

// Count returns the number of entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(1) FROM overflow_entries")
}

// CountUsed returns the number of entries already shown.
func (s *Store) CountUsed(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(1) FROM overflow_entries WHERE used = 1")
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// List returns up to limit entries, oldest first. A non-positive limit lists all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT used, last_used_at, created_at, languages_json, record_json
              FROM overflow_entries ORDER BY created_at, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e             Entry
			used          int
			lastUsed      sql.NullString
			createdAt     string
			languagesJSON string
			recordJSON    string
		)
		if err := rows.Scan(&used, &lastUsed, &createdAt, &languagesJSON, &recordJSON); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(recordJSON), &e.Record); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		if err := json.Unmarshal([]byte(languagesJSON), &e.Languages); err != nil {
			return nil, fmt.Errorf("decode languages of %s: %w", e.Record.Key(), err)
		}
		e.Used = used != 0
		e.LastUsedAt = parseTime(lastUsed)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseTime(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
