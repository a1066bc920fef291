// Package provider implements the client for the image generation provider
// (Replicate-compatible prediction API) and verification of its webhooks.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
)

// Client submits predictions to the provider and cancels them.
type Client interface {
	CreatePrediction(ctx context.Context, req CreatePredictionRequest) (*Prediction, error)
	GetPrediction(ctx context.Context, externalID string) (*Prediction, error)
	CancelPrediction(ctx context.Context, externalID string) error
}

// TokenResolver returns the API token to authenticate with. Lets an
// admin-configured credential take effect without a restart.
type TokenResolver func(ctx context.Context) string

// HTTPClient talks to a Replicate-style prediction API.
type HTTPClient struct {
	baseURL      string
	apiToken     string
	resolveToken TokenResolver
	webhookURL   string
	httpClient   *http.Client
	logger       *slog.Logger
}

// ClientConfig holds configuration for the provider client.
type ClientConfig struct {
	BaseURL       string
	APIToken      string        // static fallback token
	TokenResolver TokenResolver // optional; wins over APIToken when it returns non-empty
	WebhookURL    string        // where the provider should POST prediction results
	Timeout       time.Duration
	Logger        *slog.Logger
}

// NewHTTPClient creates a new provider client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		baseURL:      cfg.BaseURL,
		apiToken:     cfg.APIToken,
		resolveToken: cfg.TokenResolver,
		webhookURL:   cfg.WebhookURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// CreatePredictionRequest is the submission payload for a generation.
type CreatePredictionRequest struct {
	Model string
	Input models.GenerationParams
}

// Prediction is the provider's view of a generation run.
type Prediction struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Output      []string `json:"output,omitempty"`
	Error       string   `json:"error,omitempty"`
	PredictTime float64  `json:"-"`
}

type predictionPayload struct {
	Version             string         `json:"version,omitempty"`
	Model               string         `json:"model,omitempty"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type predictionResponse struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
	Metrics *struct {
		PredictTime float64 `json:"predict_time"`
	} `json:"metrics,omitempty"`
}

// CreatePrediction submits a generation to the provider.
func (c *HTTPClient) CreatePrediction(ctx context.Context, req CreatePredictionRequest) (*Prediction, error) {
	input := map[string]any{
		"prompt":      req.Input.Prompt,
		"width":       req.Input.Width,
		"height":      req.Input.Height,
		"num_outputs": req.Input.NumOutputs,
	}
	if req.Input.NegativePrompt != "" {
		input["negative_prompt"] = req.Input.NegativePrompt
	}
	if req.Input.Steps > 0 {
		input["num_inference_steps"] = req.Input.Steps
	}
	if req.Input.GuidanceScale > 0 {
		input["guidance_scale"] = req.Input.GuidanceScale
	}
	if req.Input.Seed != nil {
		input["seed"] = *req.Input.Seed
	}

	payload := predictionPayload{
		Model: req.Model,
		Input: input,
	}
	if c.webhookURL != "" {
		payload.Webhook = c.webhookURL
		payload.WebhookEventsFilter = []string{"completed"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("prediction request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		c.logger.Error("provider rejected prediction",
			"model", req.Model,
			"status_code", resp.StatusCode,
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
	}

	prediction, err := decodePrediction(respBody)
	if err != nil {
		return nil, err
	}

	c.logger.Info("prediction submitted",
		"model", req.Model,
		"prediction_id", prediction.ID,
		"status", prediction.Status,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return prediction, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *HTTPClient) GetPrediction(ctx context.Context, externalID string) (*Prediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+externalID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("prediction fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return decodePrediction(respBody)
}

// CancelPrediction asks the provider to stop a running prediction.
// Cancellation is best effort: a 404 means the prediction already finished
// or never existed, which callers treat as success.
func (c *HTTPClient) CancelPrediction(ctx context.Context, externalID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions/"+externalID+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	token := c.apiToken
	if c.resolveToken != nil {
		if resolved := c.resolveToken(req.Context()); resolved != "" {
			token = resolved
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "Pixelmint/1.0")
}

// decodePrediction parses a provider response body. The output field is either
// a JSON array of URLs or a single URL string depending on the model.
func decodePrediction(body []byte) (*Prediction, error) {
	var raw predictionResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prediction: %w", err)
	}

	prediction := &Prediction{
		ID:     raw.ID,
		Status: raw.Status,
		Error:  raw.Error,
	}
	if raw.Metrics != nil {
		prediction.PredictTime = raw.Metrics.PredictTime
	}
	if len(raw.Output) > 0 {
		prediction.Output = parseOutput(raw.Output)
	}

	return prediction, nil
}

func parseOutput(raw json.RawMessage) []string {
	var urls []string
	if err := json.Unmarshal(raw, &urls); err == nil {
		return urls
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}
