// Package geocode resolves street addresses to postal codes through a
// OneMap-style search endpoint, with bounded retries and an in-process
// cache so repeated addresses cost one call.
package geocode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	cacheSize   = 512
	maxRetries  = 2 // three attempts total
	callTimeout = 10 * time.Second
)

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("geocoder returned HTTP %d", e.status)
}

// retriable statuses per the endpoint's rate-limit contract.
func (e *statusError) retriable() bool {
	return e.status == http.StatusTooManyRequests || e.status == http.StatusServiceUnavailable
}

// Client is a lookup client for one geocoder endpoint.
type Client struct {
	apiURL     string
	httpClient *http.Client
	cache      *lru.Cache[string, string]
	logger     *slog.Logger

	newBackOff func() backoff.BackOff
}

func NewClient(apiURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, string](cacheSize)
	return &Client{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: callTimeout},
		cache:      cache,
		logger:     logger.With("component", "geocode"),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 5 * time.Second
			return bo
		},
	}
}

// Lookup returns the postal code for address, or "" when the geocoder has no
// result. 429/503 responses and transport errors are retried up to three
// attempts with exponential wait.
func (c *Client) Lookup(ctx context.Context, address string) (string, error) {
	key := cacheKey(address)
	if code, ok := c.cache.Get(key); ok {
		return code, nil
	}

	var code string
	op := func() error {
		found, err := c.fetch(ctx, address)
		if err != nil {
			if se, ok := err.(*statusError); ok && !se.retriable() {
				return backoff.Permanent(err)
			}
			return err
		}
		code = found
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}

	c.cache.Add(key, code)
	return code, nil
}

func (c *Client) fetch(ctx context.Context, address string) (string, error) {
	q := url.Values{}
	q.Set("searchVal", address)
	q.Set("returnGeom", "N")
	q.Set("getAddrDetails", "Y")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", &statusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	postal, err := jsonparser.GetString(body, "results", "[0]", "POSTAL")
	if err != nil {
		// no results is a successful empty lookup
		return "", nil
	}
	if strings.EqualFold(postal, "NIL") {
		return "", nil
	}
	return postal, nil
}

func cacheKey(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}
