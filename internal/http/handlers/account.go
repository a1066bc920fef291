package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/repository"
	"github.com/pixelmint/pixelmint-api/internal/service"
)

// AccountHandler handles profile, balance, and usage endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
	ledgerSvc  *service.LedgerService
	usageSvc   *service.UsageService
	logger     *slog.Logger
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(accountSvc *service.AccountService, ledgerSvc *service.LedgerService, usageSvc *service.UsageService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accountSvc: accountSvc,
		ledgerSvc:  ledgerSvc,
		usageSvc:   usageSvc,
		logger:     logger,
	}
}

// ProfileOutput wraps the caller's profile.
type ProfileOutput struct {
	Body struct {
		ID                   string    `json:"id"`
		Email                string    `json:"email"`
		DisplayName          string    `json:"display_name"`
		Tier                 string    `json:"tier"`
		TokenBalance         int       `json:"token_balance"`
		TotalTokensPurchased int       `json:"total_tokens_purchased"`
		TotalTokensUsed      int       `json:"total_tokens_used"`
		CreatedAt            time.Time `json:"created_at"`
	}
}

// GetProfile retrieves the caller's profile and balance.
func (h *AccountHandler) GetProfile(ctx context.Context, input *struct{}) (*ProfileOutput, error) {
	user, err := h.accountSvc.GetProfile(ctx, getUserID(ctx))
	if err != nil {
		return nil, mapServiceError(err)
	}

	out := &ProfileOutput{}
	out.Body.ID = user.ID
	out.Body.Email = user.Email
	out.Body.DisplayName = user.DisplayName
	out.Body.Tier = user.Tier
	out.Body.TokenBalance = user.TokenBalance
	out.Body.TotalTokensPurchased = user.TotalTokensPurchased
	out.Body.TotalTokensUsed = user.TotalTokensUsed
	out.Body.CreatedAt = user.CreatedAt
	return out, nil
}

// BalanceOutput wraps the caller's token balance.
type BalanceOutput struct {
	Body struct {
		TokenBalance         int `json:"token_balance"`
		TotalTokensPurchased int `json:"total_tokens_purchased"`
		TotalTokensUsed      int `json:"total_tokens_used"`
	}
}

// GetBalance retrieves the caller's token balance.
func (h *AccountHandler) GetBalance(ctx context.Context, input *struct{}) (*BalanceOutput, error) {
	user, err := h.ledgerSvc.GetBalance(ctx, getUserID(ctx))
	if err != nil {
		return nil, mapServiceError(err)
	}

	out := &BalanceOutput{}
	out.Body.TokenBalance = user.TokenBalance
	out.Body.TotalTokensPurchased = user.TotalTokensPurchased
	out.Body.TotalTokensUsed = user.TotalTokensUsed
	return out, nil
}

// PageInput holds generic pagination parameters.
type PageInput struct {
	Limit  int `query:"limit" doc:"Page size"`
	Offset int `query:"offset" doc:"Pagination offset"`
}

// PurchasesOutput wraps a page of token purchases.
type PurchasesOutput struct {
	Body struct {
		Purchases []*models.TokenPurchase `json:"purchases"`
	}
}

// GetPurchases retrieves the caller's token purchase history.
func (h *AccountHandler) GetPurchases(ctx context.Context, input *PageInput) (*PurchasesOutput, error) {
	purchases, err := h.ledgerSvc.GetPurchaseHistory(ctx, getUserID(ctx), input.Limit, input.Offset)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if purchases == nil {
		purchases = []*models.TokenPurchase{}
	}

	out := &PurchasesOutput{}
	out.Body.Purchases = purchases
	return out, nil
}

// UsageHistoryOutput wraps a page of usage events.
type UsageHistoryOutput struct {
	Body struct {
		Events []*models.UsageEvent `json:"events"`
	}
}

// GetUsageHistory retrieves the caller's usage events, newest first.
func (h *AccountHandler) GetUsageHistory(ctx context.Context, input *PageInput) (*UsageHistoryOutput, error) {
	events, err := h.usageSvc.GetUsageHistory(ctx, getUserID(ctx), input.Limit, input.Offset)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if events == nil {
		events = []*models.UsageEvent{}
	}

	out := &UsageHistoryOutput{}
	out.Body.Events = events
	return out, nil
}

// ActivitySummaryOutput wraps the caller's trailing 30-day activity.
type ActivitySummaryOutput struct {
	Body repository.UserActivitySummary
}

// GetActivitySummary retrieves the caller's trailing 30-day activity summary.
func (h *AccountHandler) GetActivitySummary(ctx context.Context, input *struct{}) (*ActivitySummaryOutput, error) {
	summary, err := h.usageSvc.GetUserActivitySummary(ctx, getUserID(ctx))
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ActivitySummaryOutput{Body: *summary}, nil
}
