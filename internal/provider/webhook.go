package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pixelmint/pixelmint-api/internal/models"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "X-Webhook-Signature"

// signaturePrefix precedes the hex digest in the signature header.
const signaturePrefix = "sha256="

// WebhookVerifier validates inbound provider webhooks.
type WebhookVerifier struct {
	secret []byte
}

// NewWebhookVerifier creates a verifier with the shared webhook secret.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret)}
}

// Verify checks the signature header against HMAC-SHA256 of the raw request
// body. The expected header format is "sha256=<hex digest>". Comparison is
// constant time.
func (v *WebhookVerifier) Verify(body []byte, signature string) bool {
	if len(v.secret) == 0 {
		return false
	}

	digest, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return false
	}

	h := hmac.New(sha256.New, v.secret)
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(digest), []byte(expected))
}

// Sign computes the signature header value for a body. Used by tests and by
// the provider simulator.
func (v *WebhookVerifier) Sign(body []byte) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write(body)
	return signaturePrefix + hex.EncodeToString(h.Sum(nil))
}

// Event is a parsed provider webhook payload.
type Event struct {
	ID          string   // provider prediction id
	Status      string   // provider status string
	Output      []string // output image URLs
	Error       string
	PredictTime float64
}

type eventPayload struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
	Metrics *struct {
		PredictTime float64 `json:"predict_time"`
	} `json:"metrics,omitempty"`
}

// ParseEvent decodes a webhook body into an Event.
func ParseEvent(body []byte) (*Event, error) {
	var raw eventPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook payload: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("webhook payload missing prediction id")
	}

	event := &Event{
		ID:     raw.ID,
		Status: raw.Status,
		Error:  raw.Error,
	}
	if raw.Metrics != nil {
		event.PredictTime = raw.Metrics.PredictTime
	}
	if len(raw.Output) > 0 {
		event.Output = parseOutput(raw.Output)
	}

	return event, nil
}

// MapStatus translates a provider status string to a generation status.
// Returns false for statuses that carry no state change (starting,
// processing heartbeats).
func MapStatus(providerStatus string) (models.GenerationStatus, bool) {
	switch providerStatus {
	case "succeeded":
		return models.GenerationStatusCompleted, true
	case "failed":
		return models.GenerationStatusFailed, true
	case "canceled", "cancelled":
		return models.GenerationStatusCancelled, true
	default:
		return "", false
	}
}
