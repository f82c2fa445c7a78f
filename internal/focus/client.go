// Package focus resolves the legal representative of a counterparty from
// its tax ID through the Kontur.Focus registry API.
package focus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://focus-api.kontur.ru/api3"

// DefaultAttempts bounds the automatic retries of one lookup.
const DefaultAttempts = 3

// Client implements the representative lookup.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root (tests, mirrors).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithAttempts overrides DefaultAttempts.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithBackoff sets the pause between attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithLogger sets the logger used for attempt failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client authenticated with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		attempts: DefaultAttempts,
		backoff:  time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the representative for taxID. Each failed attempt is
// logged; after the last one the error is a LookupFailure.
func (c *Client) Resolve(ctx context.Context, taxID string) (counterparty.Representative, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		rep, err := c.lookup(ctx, taxID)
		if err == nil {
			c.logger.Debug("representative resolved",
				zap.String("tax_id", taxID), zap.String("title", rep.Title), zap.Int("attempt", attempt))
			return rep, nil
		}
		lastErr = err
		c.logger.Warn("representative lookup failed",
			zap.String("tax_id", taxID), zap.Int("attempt", attempt), zap.Int("of", c.attempts), zap.Error(err))

		if attempt < c.attempts {
			select {
			case <-ctx.Done():
				return counterparty.Representative{}, counterparty.NewError(counterparty.KindLookup, taxID, ctx.Err())
			case <-time.After(c.backoff):
			}
		}
	}
	return counterparty.Representative{}, counterparty.NewError(counterparty.KindLookup, taxID,
		eris.Wrapf(lastErr, "focus: %d attempts", c.attempts))
}

// lookup queries /req and falls back to /egrDetails, where the deep scan
// is allowed as a last resort.
func (c *Client) lookup(ctx context.Context, taxID string) (counterparty.Representative, error) {
	doc, err := c.get(ctx, "/req", taxID)
	if err != nil {
		return counterparty.Representative{}, err
	}
	if rep, ok := extractRecord(firstRecord(doc)); ok {
		return rep, nil
	}

	doc, err = c.get(ctx, "/egrDetails", taxID)
	if err != nil {
		return counterparty.Representative{}, err
	}
	rec := firstRecord(doc)
	if rep, ok := extractRecord(rec); ok {
		return rep, nil
	}
	if rec != nil {
		if rep, ok := deepScan(rec); ok {
			return rep, nil
		}
	}
	return counterparty.Representative{}, eris.New("focus: no representative in API responses")
}

func (c *Client) get(ctx context.Context, path, taxID string) (any, error) {
	q := url.Values{}
	q.Set("inn", taxID)
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "focus: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "focus: %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, eris.Errorf("focus: %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, eris.Wrapf(err, "focus: %s: decode", path)
	}
	return doc, nil
}
