package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pixelmint/pixelmint-api/internal/provider"
	"github.com/pixelmint/pixelmint-api/internal/service"
)

// ProviderWebhookHandler ingests generation result webhooks from the image
// provider.
type ProviderWebhookHandler struct {
	verifier      *provider.WebhookVerifier
	generationSvc *service.GenerationService
	logger        *slog.Logger
}

// NewProviderWebhookHandler creates a new provider webhook handler.
func NewProviderWebhookHandler(secret string, generationSvc *service.GenerationService, logger *slog.Logger) *ProviderWebhookHandler {
	return &ProviderWebhookHandler{
		verifier:      provider.NewWebhookVerifier(secret),
		generationSvc: generationSvc,
		logger:        logger,
	}
}

// HandleWebhook processes incoming provider webhooks. This is a raw HTTP
// handler: the signature covers the exact request bytes, so the body must be
// read before any decoding.
func (h *ProviderWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(provider.SignatureHeader)
	if signature == "" {
		h.logger.Warn("rejected webhook without signature header")
		http.Error(w, "missing signature", http.StatusUnauthorized)
		return
	}
	if !h.verifier.Verify(payload, signature) {
		h.logger.Warn("rejected webhook with invalid signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := provider.ParseEvent(payload)
	if err != nil {
		h.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// A prediction ID we hold no record of is rejected outright - the sender
	// cannot fix the reference, so redelivery is pointless. Other settlement
	// errors are logged and acknowledged with 200: the provider retries on
	// non-2xx, and a redelivery would hit the same error again.
	if err := h.generationSvc.ApplyProviderEvent(r.Context(), event); err != nil {
		if errors.Is(err, service.ErrGenerationNotFound) {
			h.logger.Warn("webhook for unknown prediction rejected", "external_id", event.ID)
			http.Error(w, "unknown prediction", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to apply provider event",
			"external_id", event.ID,
			"status", event.Status,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}
