package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"audiobook-feed/internal/metrics"
)

// DefaultTimeout bounds every catalog request.
const DefaultTimeout = 15 * time.Second

var (
	// ErrUnavailable is returned without a network call while the breaker is open.
	ErrUnavailable = errors.New("catalog unavailable")
	// ErrRateLimited reports an HTTP 429 answer.
	ErrRateLimited = errors.New("catalog rate limited")
	// ErrUnexpectedShape reports a body that does not match the expected schema.
	ErrUnexpectedShape = errors.New("unexpected response shape")
)

// Validator is implemented by response payloads that check their own shape
// after decoding.
type Validator interface {
	Validate() error
}

// Fetcher performs GET requests against one catalog and feeds every outcome
// into the catalog's Health.
type Fetcher struct {
	Name      string
	Client    *http.Client
	Health    *Health
	Limiter   *rate.Limiter
	Timeout   time.Duration
	UserAgent string
	Metrics   *metrics.Metrics
}

// GetJSON fetches rawURL and decodes the body into target. Rate limits,
// non-2xx answers, timeouts and shape errors open the breaker; a request
// cancelled by the caller does not.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, target any) error {
	if !f.Health.Available() {
		f.Metrics.CatalogRequest(f.Name, "skipped")
		return ErrUnavailable
	}

	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for %s rate limiter: %w", f.Name, err)
		}
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return err
		}
		f.fail()
		return fmt.Errorf("%s request: %w", f.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		f.Metrics.CatalogRequest(f.Name, "rate_limited")
		f.Health.TripRateLimit(ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.fail()
		return fmt.Errorf("%s returned status: %d", f.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.fail()
		return fmt.Errorf("read %s body: %w", f.Name, err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		f.fail()
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			f.fail()
			return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
	}

	f.Metrics.CatalogRequest(f.Name, "ok")
	return nil
}

func (f *Fetcher) fail() {
	f.Metrics.CatalogRequest(f.Name, "failed")
	f.Health.TripFailure()
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as an
// HTTP date. Zero means no usable hint.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
