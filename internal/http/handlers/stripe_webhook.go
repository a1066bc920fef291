package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/pixelmint/pixelmint-api/internal/config"
	"github.com/pixelmint/pixelmint-api/internal/service"
)

// StripeWebhookHandler handles Stripe webhook events for token purchases.
type StripeWebhookHandler struct {
	cfg       *config.Config
	ledgerSvc *service.LedgerService
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a new Stripe webhook handler.
func NewStripeWebhookHandler(cfg *config.Config, ledgerSvc *service.LedgerService, logger *slog.Logger) *StripeWebhookHandler {
	// Set Stripe API key
	stripe.Key = cfg.StripeSecretKey

	return &StripeWebhookHandler{
		cfg:       cfg,
		ledgerSvc: ledgerSvc,
		logger:    logger,
	}
}

// HandleWebhook processes incoming Stripe webhooks.
// This is a raw HTTP handler since the signature covers the raw body.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Verify webhook signature
	sigHeader := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, sigHeader, h.cfg.StripeWebhookSecret)
	if err != nil {
		h.logger.Error("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := h.handleEvent(ctx, event); err != nil {
		h.logger.Error("failed to handle webhook event", "type", event.Type, "error", err)
		// Return 200 to prevent Stripe from retrying; the error is handled
		// internally and a redelivery would fail the same way.
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleEvent routes events to appropriate handlers.
func (h *StripeWebhookHandler) handleEvent(ctx context.Context, event stripe.Event) error {
	h.logger.Info("received Stripe webhook", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutComplete(ctx, event)

	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}
}

// handleCheckoutComplete credits tokens from a completed checkout session.
func (h *StripeWebhookHandler) handleCheckoutComplete(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	// Get user ID from metadata
	userID, ok := session.Metadata["user_id"]
	if !ok || userID == "" {
		h.logger.Warn("checkout session missing user_id", "session_id", session.ID)
		return nil // Don't error - might be a non-user checkout
	}

	tokens, err := strconv.Atoi(session.Metadata["tokens"])
	if err != nil || tokens <= 0 {
		h.logger.Warn("checkout session missing token quantity", "session_id", session.ID)
		return nil
	}

	if session.PaymentIntent == nil {
		h.logger.Warn("checkout session missing payment intent", "session_id", session.ID)
		return nil
	}

	amountUSD := float64(session.AmountTotal) / 100.0

	if err := h.ledgerSvc.CreditCheckoutPurchase(ctx, userID, session.PaymentIntent.ID, tokens, amountUSD); err != nil {
		if errors.Is(err, service.ErrDuplicatePurchase) {
			h.logger.Info("duplicate checkout payment ignored", "payment_id", session.PaymentIntent.ID)
			return nil
		}
		return fmt.Errorf("failed to credit purchase: %w", err)
	}

	h.logger.Info("credited token purchase",
		"user_id", userID,
		"tokens", tokens,
		"payment_id", session.PaymentIntent.ID,
	)

	return nil
}
