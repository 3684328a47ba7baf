package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrUpstreamUnavailable is returned when the analysis service cannot be reached
var ErrUpstreamUnavailable = errors.New("analysis service unavailable")

const analyzePath = "/ai/analyze-traffic"

// Client uploads clips to the analysis service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type analyzeResponse struct {
	Success bool    `json:"success"`
	Data    *Result `json:"data"`
	Message string  `json:"message"`
}

// NewClient creates a client for the analysis service at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze streams a video to the analysis service and returns its verdict
func (c *Client) Analyze(ctx context.Context, filename string, video io.Reader) (*Result, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("video", filename)
		if err == nil {
			_, err = io.Copy(part, video)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode analysis response: %w", err)
	}
	if !out.Success || out.Data == nil {
		return nil, fmt.Errorf("analysis failed: %s", out.Message)
	}

	log.WithFields(log.Fields{
		"file":     filename,
		"detected": out.Data.Detected,
		"type":     out.Data.Type,
		"took":     time.Since(started).String(),
	}).Info("🤖 Analysis result received")

	return out.Data, nil
}
