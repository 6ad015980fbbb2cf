package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/verifai/verifai/internal/common"
	"github.com/verifai/verifai/internal/logging"
	sc "github.com/verifai/verifai/internal/server/config"
	"github.com/verifai/verifai/internal/server/models"
	"github.com/verifai/verifai/internal/server/services"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, args ...any) {}
func (nopLogger) Info(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Warn(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Error(ctx context.Context, msg string, args ...any) {}
func (l nopLogger) With(args ...any) logging.Logger                  { return l }

type fakeJobAPI struct {
	grant     *services.TokenGrant
	tokenErr  error
	uploadErr error
	finRes    *services.FinalizeResult
	finErr    error
	cbErr     error
	view      *services.ReportView
	reportErr error

	lastClientIP string
	lastSecret   string
	lastBody     []byte
}

func (f *fakeJobAPI) IssueToken(ctx context.Context, clientIP, contentType string, fileSize int64) (*services.TokenGrant, error) {
	f.lastClientIP = clientIP
	return f.grant, f.tokenErr
}

func (f *fakeJobAPI) AcceptUpload(ctx context.Context, jobID, contentType string, contentLength int64, body io.Reader) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.lastBody = data
	return nil
}

func (f *fakeJobAPI) Finalize(ctx context.Context, jobID string) (*services.FinalizeResult, error) {
	return f.finRes, f.finErr
}

func (f *fakeJobAPI) HandleAnalysisResult(ctx context.Context, secret string, res *services.AnalysisResult) error {
	f.lastSecret = secret
	return f.cbErr
}

func (f *fakeJobAPI) GetReport(ctx context.Context, jobID string) (*services.ReportView, error) {
	return f.view, f.reportErr
}

func newTestServer(api *fakeJobAPI) *Server {
	cfg := &sc.Config{}
	cfg.LoadDefaults()
	return NewServer(api, cfg, nopLogger{})
}

func TestIssueTokenEndpoint(t *testing.T) {
	api := &fakeJobAPI{grant: &services.TokenGrant{JobID: "j1", UploadTarget: "/api/upload/j1", ExpiresIn: 300}}
	srv := newTestServer(api)

	body := `{"content_type":"image/png","file_size":2048}`
	req := httptest.NewRequest(http.MethodPost, "/api/upload/token", bytes.NewBufferString(body))
	req.Header.Set("CF-Connecting-IP", "198.51.100.4")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if api.lastClientIP != "198.51.100.4" {
		t.Errorf("expected CF-Connecting-IP identity, got %q", api.lastClientIP)
	}

	var grant services.TokenGrant
	if err := json.Unmarshal(w.Body.Bytes(), &grant); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if grant.JobID != "j1" || grant.ExpiresIn != 300 {
		t.Errorf("unexpected grant: %+v", grant)
	}
}

func TestIssueTokenRateLimited(t *testing.T) {
	reset := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	api := &fakeJobAPI{tokenErr: &common.RateLimitError{
		Err:        common.ErrRateLimitExceeded,
		Limit:      50,
		Remaining:  0,
		RetryAfter: 90 * time.Second,
		Reset:      reset,
	}}
	srv := newTestServer(api)

	req := httptest.NewRequest(http.MethodPost, "/api/upload/token",
		bytes.NewBufferString(`{"content_type":"image/png","file_size":10}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "90" {
		t.Errorf("expected Retry-After 90, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "50" {
		t.Errorf("expected X-RateLimit-Limit 50, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
}

func TestIssueTokenXFFFallback(t *testing.T) {
	api := &fakeJobAPI{grant: &services.TokenGrant{JobID: "j1"}}
	srv := newTestServer(api)

	req := httptest.NewRequest(http.MethodPost, "/api/upload/token",
		bytes.NewBufferString(`{"content_type":"image/png","file_size":10}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if api.lastClientIP != "203.0.113.9" {
		t.Errorf("expected first X-Forwarded-For hop, got %q", api.lastClientIP)
	}
}

func TestAcceptUploadEndpoint(t *testing.T) {
	api := &fakeJobAPI{}
	srv := newTestServer(api)

	req := httptest.NewRequest(http.MethodPut, "/api/upload/j1", bytes.NewReader([]byte("image bytes")))
	req.Header.Set("Content-Type", "image/jpeg")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if string(api.lastBody) != "image bytes" {
		t.Errorf("body not forwarded: %q", api.lastBody)
	}
}

func TestAcceptUploadErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid token", common.ErrInvalidUploadToken, http.StatusNotFound},
		{"bad content type", common.ErrInvalidContentType, http.StatusBadRequest},
		{"too large", common.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"empty body", common.ErrEmptyBody, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeJobAPI{uploadErr: tt.err})
			req := httptest.NewRequest(http.MethodPut, "/api/upload/j1", bytes.NewReader([]byte("x")))
			req.Header.Set("Content-Type", "image/jpeg")
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, w.Code)
			}
		})
	}
}

func TestFinalizeEndpoint(t *testing.T) {
	api := &fakeJobAPI{finRes: &services.FinalizeResult{JobID: "prior", Status: models.StatusDone, Cached: true}}
	srv := newTestServer(api)

	req := httptest.NewRequest(http.MethodPost, "/api/upload/finalize",
		bytes.NewBufferString(`{"job_id":"j2"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res services.FinalizeResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if res.JobID != "prior" || !res.Cached {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestFinalizeConflict(t *testing.T) {
	srv := newTestServer(&fakeJobAPI{finErr: common.ErrJobNotPending})

	req := httptest.NewRequest(http.MethodPost, "/api/upload/finalize",
		bytes.NewBufferString(`{"job_id":"j1"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestFinalizeMissingJobID(t *testing.T) {
	srv := newTestServer(&fakeJobAPI{})

	req := httptest.NewRequest(http.MethodPost, "/api/upload/finalize", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetReportEndpoint(t *testing.T) {
	likelihood := 0.91
	api := &fakeJobAPI{view: &services.ReportView{
		JobID:        "j1",
		Status:       models.StatusDone,
		AILikelihood: &likelihood,
		Evidence:     []string{},
		Limitations:  []string{},
	}}
	srv := newTestServer(api)

	req := httptest.NewRequest(http.MethodGet, "/api/report/j1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	// Fixed shape: report fields are present even when null.
	for _, key := range []string{"ai_likelihood", "confidence", "verdict_text", "evidence", "provenance", "metadata", "limitations"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing key %q in report view", key)
		}
	}
}

func TestGetReportNotFound(t *testing.T) {
	srv := newTestServer(&fakeJobAPI{reportErr: common.ErrorNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/report/missing", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAnalysisCallback(t *testing.T) {
	api := &fakeJobAPI{}
	srv := newTestServer(api)

	req := httptest.NewRequest(http.MethodPost, "/api/internal/report",
		bytes.NewBufferString(`{"job_id":"j1","status":"done"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if api.lastSecret != "s3cret" {
		t.Errorf("bearer token not forwarded: %q", api.lastSecret)
	}
}

func TestAnalysisCallbackUnauthorized(t *testing.T) {
	srv := newTestServer(&fakeJobAPI{cbErr: common.ErrorUnauthorized})

	req := httptest.NewRequest(http.MethodPost, "/api/internal/report",
		bytes.NewBufferString(`{"job_id":"j1","status":"done"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}
