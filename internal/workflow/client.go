// Package workflow is the adapter in front of the CI system. The consumer
// only sees Trigger and the error classification; swapping GitHub Actions
// for a stub never touches consumer logic.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	conf "github.com/petmatch/dispatchhub/internal/config"
)

const defaultRetryAfter = 60

// RateLimitedError reports externally-imposed backpressure together with
// the wait the API suggested.
type RateLimitedError struct {
	RetryAfter int // seconds
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("workflow dispatch rate limited, retry after %ds", e.RetryAfter)
}

// FatalError covers auth, permission and missing-workflow responses. The
// cause cannot resolve itself, so retrying is pointless; the consumer
// dead-letters these immediately.
type FatalError struct {
	Status int
	Cause  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("workflow dispatch failed (%d): %s", e.Status, e.Cause)
}

type Client struct {
	http *http.Client
	cfg  conf.WorkflowConfig
}

func NewClient(cfg conf.WorkflowConfig) *Client {
	return &Client{
		http: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:  cfg,
	}
}

type dispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs"`
}

// Trigger submits one batch as a single workflow_dispatch call. A 2xx
// response is success; 429 maps to RateLimitedError, 401/403/404 to
// FatalError, anything else to a generic retryable error.
func (c *Client) Trigger(ctx context.Context, workflowFile, batchID string, inputs map[string]string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches",
		c.cfg.APIBase, c.cfg.Owner, c.cfg.Repo, workflowFile)

	body, err := json.Marshal(dispatchRequest{Ref: c.cfg.Ref, Inputs: inputs})
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("workflow dispatch request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		log.Printf("[workflow] dispatched %s for batch %s", workflowFile, batchID)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfterSeconds(resp)}
	case resp.StatusCode == http.StatusUnauthorized:
		return &FatalError{Status: resp.StatusCode, Cause: "authentication failed, check the workflow token"}
	case resp.StatusCode == http.StatusForbidden:
		return &FatalError{Status: resp.StatusCode, Cause: "permission denied for workflow dispatch"}
	case resp.StatusCode == http.StatusNotFound:
		return &FatalError{Status: resp.StatusCode, Cause: fmt.Sprintf("workflow %s not found", workflowFile)}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("workflow dispatch returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

func retryAfterSeconds(resp *http.Response) int {
	n, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil || n <= 0 {
		return defaultRetryAfter
	}
	return n
}
