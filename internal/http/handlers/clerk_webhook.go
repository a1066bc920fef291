package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/pixelmint/pixelmint-api/internal/config"
	"github.com/pixelmint/pixelmint-api/internal/service"
)

// ClerkWebhookHandler handles Clerk identity webhook events: user
// provisioning, profile sync, and session activity.
type ClerkWebhookHandler struct {
	cfg        *config.Config
	accountSvc *service.AccountService
	logger     *slog.Logger
}

// NewClerkWebhookHandler creates a new Clerk webhook handler.
func NewClerkWebhookHandler(cfg *config.Config, accountSvc *service.AccountService, logger *slog.Logger) *ClerkWebhookHandler {
	return &ClerkWebhookHandler{
		cfg:        cfg,
		accountSvc: accountSvc,
		logger:     logger,
	}
}

// ClerkWebhookEvent represents a Clerk webhook event.
type ClerkWebhookEvent struct {
	Type   string          `json:"type"`
	Object string          `json:"object"`
	Data   json.RawMessage `json:"data"`
}

// ClerkUserData represents user data from Clerk.
type ClerkUserData struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	PublicMetadata struct {
		Tier string `json:"tier"`
	} `json:"public_metadata"`
	EmailAddresses []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
}

// ClerkSessionData represents session data from Clerk.
type ClerkSessionData struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// HandleWebhook processes incoming Clerk webhooks.
func (h *ClerkWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Verify webhook signature using Svix
	headers := http.Header{}
	headers.Set("svix-id", r.Header.Get("svix-id"))
	headers.Set("svix-timestamp", r.Header.Get("svix-timestamp"))
	headers.Set("svix-signature", r.Header.Get("svix-signature"))

	wh, err := svix.NewWebhook(h.cfg.ClerkWebhookSecret)
	if err != nil {
		h.logger.Error("failed to create webhook verifier", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := wh.Verify(payload, headers); err != nil {
		h.logger.Error("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var event ClerkWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("failed to parse webhook event", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := h.handleEvent(ctx, event); err != nil {
		h.logger.Error("failed to handle webhook event", "type", event.Type, "error", err)
		// Return 200 to prevent retries for business logic errors
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleEvent routes events to appropriate handlers.
func (h *ClerkWebhookHandler) handleEvent(ctx context.Context, event ClerkWebhookEvent) error {
	h.logger.Info("received Clerk webhook", "type", event.Type)

	switch event.Type {
	case "user.created":
		return h.handleUserCreated(ctx, event.Data)

	case "user.updated":
		return h.handleUserUpdated(ctx, event.Data)

	case "session.created":
		return h.handleSessionEvent(ctx, event.Data, true)

	case "session.ended", "session.removed", "session.revoked":
		return h.handleSessionEvent(ctx, event.Data, false)

	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}
}

// handleUserCreated provisions a new user with the signup token grant.
func (h *ClerkWebhookHandler) handleUserCreated(ctx context.Context, data json.RawMessage) error {
	var user ClerkUserData
	if err := json.Unmarshal(data, &user); err != nil {
		return err
	}

	if user.ID == "" {
		h.logger.Warn("user.created event missing user id")
		return nil
	}

	return h.accountSvc.ProvisionUser(ctx, user.ID, user.primaryEmail(), user.displayName())
}

// handleUserUpdated syncs profile changes from Clerk.
func (h *ClerkWebhookHandler) handleUserUpdated(ctx context.Context, data json.RawMessage) error {
	var user ClerkUserData
	if err := json.Unmarshal(data, &user); err != nil {
		return err
	}

	if user.ID == "" {
		h.logger.Warn("user.updated event missing user id")
		return nil
	}

	tier := user.PublicMetadata.Tier
	if tier == "" {
		tier = "free"
	}

	return h.accountSvc.UpdateProfile(ctx, user.ID, user.primaryEmail(), user.displayName(), tier)
}

// handleSessionEvent records login/logout activity in the usage log.
func (h *ClerkWebhookHandler) handleSessionEvent(ctx context.Context, data json.RawMessage, login bool) error {
	var session ClerkSessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	if session.UserID == "" {
		h.logger.Warn("session event missing user_id", "session_id", session.ID)
		return nil
	}

	if login {
		h.accountSvc.RecordLogin(ctx, session.UserID)
	} else {
		h.accountSvc.RecordLogout(ctx, session.UserID)
	}
	return nil
}

// primaryEmail returns the user's primary email address.
func (u *ClerkUserData) primaryEmail() string {
	for _, addr := range u.EmailAddresses {
		if addr.ID == u.PrimaryEmailAddressID {
			return addr.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

// displayName returns the user's display name.
func (u *ClerkUserData) displayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
