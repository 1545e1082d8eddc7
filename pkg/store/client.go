// Package store is the data plane: a PostgREST-style REST client over the
// raw-message store, the extraction work queue, and the assignments table,
// with an append-only JSONL fallback that keeps the collector alive when no
// credentials are configured.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/pipeline"
)

var (
	// ErrDisabled is returned by operations that need the REST store when
	// only the fallback is configured.
	ErrDisabled = errors.New("store disabled: no credentials configured")

	// ErrAmbiguousOverload surfaces PostgREST's HTTP 300 on RPC calls whose
	// argument set matches more than one SQL function overload.
	ErrAmbiguousOverload = errors.New("ambiguous rpc overload")
)

// APIError is any non-2xx REST response other than the 300 case.
type APIError struct {
	Status int
	Method string
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("store %s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client speaks PostgREST: upserts with on_conflict, filtered GET/PATCH,
// and RPC function calls.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRESTClient(cfg config.StoreConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "store"),
	}
}

// Upsert POSTs rows to table resolving conflicts on the given key columns.
func (c *Client) Upsert(ctx context.Context, table, onConflict string, rows any) error {
	q := url.Values{}
	if onConflict != "" {
		q.Set("on_conflict", onConflict)
	}
	prefer := "return=minimal"
	if onConflict != "" {
		prefer = "resolution=merge-duplicates,return=minimal"
	}
	return c.do(ctx, http.MethodPost, "/rest/v1/"+table, q, rows, prefer, nil)
}

// Get fetches rows matching query into dest (a pointer to a slice).
func (c *Client) Get(ctx context.Context, table string, query url.Values, dest any) error {
	return c.do(ctx, http.MethodGet, "/rest/v1/"+table, query, nil, "", dest)
}

// Patch applies fields to rows matching query and returns how many changed.
func (c *Client) Patch(ctx context.Context, table string, query url.Values, fields any) (int, error) {
	var rows []json.RawMessage
	err := c.do(ctx, http.MethodPatch, "/rest/v1/"+table, query, fields, "return=representation", &rows)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// RPC invokes a database function with args, decoding the result into dest
// when dest is non-nil.
func (c *Client) RPC(ctx context.Context, fn string, args, dest any) error {
	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, nil, args, "", dest)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, prefer string, dest any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("store %s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s", ErrAmbiguousOverload, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Status: resp.StatusCode,
			Method: method,
			Path:   path,
			Body:   pipeline.Truncate(string(data)),
		}
	}

	c.logger.Debug("store call", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(started))

	if dest == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("store %s %s: decode response: %w", method, path, err)
	}
	return nil
}
