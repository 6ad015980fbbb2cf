package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/verifai/verifai/internal/common"
	"github.com/verifai/verifai/internal/server/services"
)

type tokenRequest struct {
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size"`
}

type finalizeRequest struct {
	JobID string `json:"job_id"`
}

func (s *Server) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	grant, err := s.jobs.IssueToken(c.Request.Context(), clientIP(c), req.ContentType, req.FileSize)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (s *Server) acceptUpload(c *gin.Context) {
	jobID := c.Param("job_id")
	contentType := c.GetHeader("Content-Type")
	length := c.Request.ContentLength

	body := http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadSize)
	err := s.jobs.AcceptUpload(c.Request.Context(), jobID, contentType, length, body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": "uploaded"})
}

func (s *Server) finalize(c *gin.Context) {
	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.JobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := s.jobs.Finalize(c.Request.Context(), req.JobID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getReport(c *gin.Context) {
	view, err := s.jobs.GetReport(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) analysisCallback(c *gin.Context) {
	var res services.AnalysisResult
	if err := c.ShouldBindJSON(&res); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := s.jobs.HandleAnalysisResult(c.Request.Context(), bearerToken(c), &res)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// writeError maps service errors onto HTTP responses. Rate-limit rejections
// carry Retry-After and X-RateLimit-* headers so clients can back off without
// parsing the body.
func (s *Server) writeError(c *gin.Context, err error) {
	var rle *common.RateLimitError
	if errors.As(err, &rle) {
		c.Header("Retry-After", strconv.FormatInt(int64(rle.RetryAfter.Seconds()), 10))
		c.Header("X-RateLimit-Limit", strconv.FormatInt(rle.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(rle.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(rle.Reset.Unix(), 10))
		msg := "Too many requests. Please wait before trying again."
		if errors.Is(err, common.ErrRateLimitExceeded) {
			msg = "Rate limit exceeded. Try again later."
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": msg})
		return
	}

	switch {
	case errors.Is(err, common.ErrInvalidContentType),
		errors.Is(err, common.ErrInvalidFileSize),
		errors.Is(err, common.ErrEmptyBody),
		errors.Is(err, common.ErrUploadMissing),
		errors.Is(err, common.ErrInvalidAnalysisStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrPayloadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrorUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, common.ErrInvalidUploadToken),
		errors.Is(err, common.ErrJobNotPending),
		errors.Is(err, common.ErrorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		s.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// clientIP resolves the caller identity used for rate limiting. Proxy headers
// win over the socket address so limits attach to the real client behind a
// CDN.
func clientIP(c *gin.Context) string {
	if ip := c.GetHeader("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	return c.ClientIP()
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return token
}
