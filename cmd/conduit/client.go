package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mattjoyce/conduit/internal/api"
)

// apiClient is the CLI side of the server API.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func (o *globalOptions) client() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(o.apiURL, "/"),
		apiKey:  o.apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx response.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &apiError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) submit(ctx context.Context, req api.SubmitJobRequest) (*api.JobResponse, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) job(ctx context.Context, id string) (*api.JobResponse, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) history(ctx context.Context, id string) (*api.HistoryResponse, error) {
	var out api.HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id)+"/history", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) listJobs(ctx context.Context, q url.Values) ([]api.JobResponse, error) {
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out api.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *apiClient) cancel(ctx context.Context, id string) (*api.CancelResponse, error) {
	var out api.CancelResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) retry(ctx context.Context, id string) (*api.JobResponse, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/retry", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) pipelines(ctx context.Context) ([]api.PipelineResponse, error) {
	var out api.PipelineListResponse
	if err := c.do(ctx, http.MethodGet, "/pipelines", nil, &out); err != nil {
		return nil, err
	}
	return out.Pipelines, nil
}

func (c *apiClient) triggers(ctx context.Context) ([]api.TriggerResponse, error) {
	var out api.TriggerListResponse
	if err := c.do(ctx, http.MethodGet, "/triggers", nil, &out); err != nil {
		return nil, err
	}
	return out.Triggers, nil
}
