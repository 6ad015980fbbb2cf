// Package report implements the client side of the analysis API: requesting
// an upload slot, uploading the image, finalizing, and polling for the
// verdict.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TokenGrant mirrors the upload-token response.
type TokenGrant struct {
	JobID     string `json:"job_id"`
	UploadURL string `json:"upload_url"`
	ExpiresIn int64  `json:"expires_in"`
}

// FinalizeResult mirrors the finalize response. On a dedup hit JobID points
// at the canonical prior job and Cached is true.
type FinalizeResult struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Cached bool   `json:"cached"`
}

// Report is the fixed-shape polling response.
type Report struct {
	JobID        string   `json:"job_id"`
	Status       string   `json:"status"`
	AILikelihood *float64 `json:"ai_likelihood"`
	Confidence   *string  `json:"confidence"`
	VerdictText  *string  `json:"verdict_text"`
	Evidence     []string `json:"evidence"`
	Limitations  []string `json:"limitations"`
	Error        string   `json:"error"`
}

// Terminal reports whether polling can stop.
func (r *Report) Terminal() bool {
	return r.Status == "done" || r.Status == "failed"
}

// Client talks to the analysis server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenRequest struct {
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size"`
}

type finalizeRequest struct {
	JobID string `json:"job_id"`
}

// RequestToken asks for an upload slot for a file of the given type and size.
func (c *Client) RequestToken(ctx context.Context, contentType string, fileSize int64) (*TokenGrant, error) {
	var grant TokenGrant
	if err := c.postJSON(ctx, "/api/upload/token", tokenRequest{ContentType: contentType, FileSize: fileSize}, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Upload sends the image bytes to the granted upload slot.
func (c *Client) Upload(ctx context.Context, uploadURL, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Finalize locks the upload in and starts analysis.
func (c *Client) Finalize(ctx context.Context, jobID string) (*FinalizeResult, error) {
	var res FinalizeResult
	if err := c.postJSON(ctx, "/api/upload/finalize", finalizeRequest{JobID: jobID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Report fetches the current report view for a job.
func (c *Client) Report(ctx context.Context, jobID string) (*Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/report/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("build report request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("report request: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
}
