package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sc "github.com/verifai/verifai/internal/server/config"
)

// InferenceClient calls the external analysis service over HTTP. The image
// bytes travel inline as a base64 data URI; the analyzer posts its verdict
// back to the callback URL with the shared secret.
type InferenceClient struct {
	analyzeURL  string
	callbackURL string
	secret      string
	httpClient  *http.Client
}

// NewInferenceClient builds a client from the server configuration.
func NewInferenceClient(c *sc.Config) *InferenceClient {
	return &InferenceClient{
		analyzeURL:  strings.TrimRight(c.InferenceURL, "/") + "/analyze",
		callbackURL: strings.TrimRight(c.CallbackBaseURL, "/") + "/api/internal/report",
		secret:      c.SharedSecret,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

type analyzeRequest struct {
	JobID       string `json:"job_id"`
	ObjectKey   string `json:"object_key"`
	ImageURL    string `json:"image_url"`
	CallbackURL string `json:"callback_url"`
}

// Analyze submits one image for analysis. A non-2xx response is an error.
func (c *InferenceClient) Analyze(ctx context.Context, jobID, objectKey string, image []byte) error {
	payload := analyzeRequest{
		JobID:       jobID,
		ObjectKey:   objectKey,
		ImageURL:    "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(image),
		CallbackURL: c.callbackURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.analyzeURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("inference service returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}
