// Package client is the thin HTTP client the CLI uses against a
// running server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/search"
	"github.com/loseme/loseme/internal/store"
)

// Client talks to the loseme HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the given API URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// errorBody mirrors the server's error envelope.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.KindFatal, err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(errors.KindFatal, err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var eb errorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err == nil && eb.Error != "" {
			return errors.New(errors.Kind(eb.Kind), "%s", eb.Error)
		}
		return errors.New(kindForStatus(resp.StatusCode), "%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.KindFatal, err, "decode response")
	}
	return nil
}

func kindForStatus(status int) errors.Kind {
	switch status {
	case http.StatusNotFound:
		return errors.KindNotFound
	case http.StatusBadRequest:
		return errors.KindValidation
	case http.StatusConflict:
		return errors.KindConflict
	case http.StatusUnprocessableEntity:
		return errors.KindExtractionSkipped
	case http.StatusServiceUnavailable:
		return errors.KindTransient
	default:
		return errors.KindFatal
	}
}

// Health checks the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

// CreateRun posts a scope envelope and returns the fresh run.
func (c *Client) CreateRun(ctx context.Context, scopeJSON []byte) (*store.Run, error) {
	var run store.Run
	if err := c.call(ctx, http.MethodPost, "/runs/create", json.RawMessage(scopeJSON), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// StartIndexing starts the indexing worker for a run.
func (c *Client) StartIndexing(ctx context.Context, runID string) error {
	return c.call(ctx, http.MethodPost, "/runs/start_indexing/"+runID, nil, nil)
}

// ListRuns fetches up to limit recent runs.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	path := "/runs/list"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var body struct {
		Runs []*store.Run `json:"runs"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Runs, nil
}

// RequestStop flags a run for cooperative shutdown.
func (c *Client) RequestStop(ctx context.Context, runID string) error {
	return c.call(ctx, http.MethodPost, "/runs/request_stop/"+runID, nil, nil)
}

// ResumeRun restarts an interrupted run.
func (c *Client) ResumeRun(ctx context.Context, runID string) (*store.Run, error) {
	var run store.Run
	if err := c.call(ctx, http.MethodPost, "/runs/resume/"+runID, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Search runs a semantic query.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]search.Hit, error) {
	var body struct {
		Results []search.Hit `json:"results"`
	}
	req := map[string]any{"query": query, "top_k": topK}
	if err := c.call(ctx, http.MethodPost, "/search", req, &body); err != nil {
		return nil, err
	}
	return body.Results, nil
}

// AddSource registers a scope for on-demand rescans.
func (c *Client) AddSource(ctx context.Context, scopeJSON []byte) (*store.MonitoredSource, error) {
	var src store.MonitoredSource
	if err := c.call(ctx, http.MethodPost, "/sources/add", json.RawMessage(scopeJSON), &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// ListSources fetches all monitored sources.
func (c *Client) ListSources(ctx context.Context) ([]*store.MonitoredSource, error) {
	var body struct {
		Sources []*store.MonitoredSource `json:"sources"`
	}
	if err := c.call(ctx, http.MethodGet, "/sources/get_all_sources", nil, &body); err != nil {
		return nil, err
	}
	return body.Sources, nil
}

// ScanSource starts a run for one monitored source.
func (c *Client) ScanSource(ctx context.Context, sourceID string) (*store.Run, error) {
	var run store.Run
	if err := c.call(ctx, http.MethodPost, "/sources/scan/"+sourceID, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ScanAll starts runs for every enabled monitored source.
func (c *Client) ScanAll(ctx context.Context) ([]*store.Run, error) {
	var body struct {
		Runs []*store.Run `json:"runs"`
	}
	if err := c.call(ctx, http.MethodPost, "/sources/scan_all", nil, &body); err != nil {
		return nil, err
	}
	return body.Runs, nil
}
