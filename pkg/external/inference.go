package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/vision"
)

// InferenceClient sends normalized images to a remote model server.
type InferenceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

// PredictResponse is the model server's reply to /predict.
type PredictResponse struct {
	Labels map[domain.Label]float64 `json:"labels"`
}

// NewInferenceClient creates a vision classifier backed by a remote model server
func NewInferenceClient(config domain.VisionConfig, logger *logrus.Logger) *InferenceClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &InferenceClient{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		rateLimit:  rate.NewLimiter(limit, 1),
		breaker:    NewCircuitBreaker("vision-inference", DefaultCircuitBreakerConfig(), logger),
		logger:     logger,
	}
}

// Predict implements domain.VisionClassifier.
func (c *InferenceClient) Predict(ctx context.Context, img *image.Gray) (domain.FindingsVector, error) {
	body, err := vision.EncodePNG(img)
	if err != nil {
		return nil, domain.Wrap(domain.ErrInvalidInput, "failed to encode image", err)
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, domain.Wrap(domain.ErrClassifierUnavailable, "rate limit wait cancelled", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, "/predict", body)
	})
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"endpoint":     c.baseURL + "/predict",
			"breaker_open": IsBreakerOpen(err),
			"error":        err.Error(),
		}).Error("Vision inference failed")
		return nil, domain.Wrap(domain.ErrClassifierUnavailable, "vision inference failed", err)
	}

	resp := result.(*PredictResponse)
	vector, err := domain.NewFindingsVector(resp.Labels)
	if err != nil {
		return nil, domain.Wrap(domain.ErrClassifierUnavailable, "model server returned an invalid findings vector", err)
	}
	return vector, nil
}

func (c *InferenceClient) post(ctx context.Context, path string, body []byte) (*PredictResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var out PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
