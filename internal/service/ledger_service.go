package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/repository"
)

// LedgerService handles token balances and purchase credits. Debits happen
// inside generation settlement; everything that adds tokens goes through
// here so the purchase audit trail stays complete.
type LedgerService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(repos *repository.Repositories, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		repos:  repos,
		logger: logger,
	}
}

// GetBalance retrieves a user's current token balance.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repos.User.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// CreditCheckoutPurchase credits tokens from a completed Stripe checkout.
// The Stripe payment ID makes redelivered webhooks safe: the second attempt
// fails on the UNIQUE constraint before any balance moves.
func (s *LedgerService) CreditCheckoutPurchase(ctx context.Context, userID, stripePaymentID string, tokens int, amountUSD float64) error {
	purchase := &models.TokenPurchase{
		ID:              ulid.Make().String(),
		UserID:          userID,
		Type:            models.PurchaseTypeCheckout,
		Tokens:          tokens,
		AmountUSD:       amountUSD,
		StripePaymentID: &stripePaymentID,
		Description:     fmt.Sprintf("%d token pack - $%.2f", tokens, amountUSD),
		CreatedAt:       time.Now().UTC(),
	}

	return s.credit(ctx, purchase)
}

// GrantSignupTokens credits the free signup allowance for a new account.
func (s *LedgerService) GrantSignupTokens(ctx context.Context, userID string, tokens int) error {
	if tokens <= 0 {
		return nil
	}

	purchase := &models.TokenPurchase{
		ID:          ulid.Make().String(),
		UserID:      userID,
		Type:        models.PurchaseTypeSignup,
		Tokens:      tokens,
		Description: fmt.Sprintf("Signup grant - %d tokens", tokens),
		CreatedAt:   time.Now().UTC(),
	}

	return s.credit(ctx, purchase)
}

// AddAdjustment applies a manual admin token adjustment.
func (s *LedgerService) AddAdjustment(ctx context.Context, userID string, tokens int, description string) error {
	purchase := &models.TokenPurchase{
		ID:          ulid.Make().String(),
		UserID:      userID,
		Type:        models.PurchaseTypeAdjustment,
		Tokens:      tokens,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	return s.credit(ctx, purchase)
}

// GetPurchaseHistory retrieves a user's token purchase history.
func (s *LedgerService) GetPurchaseHistory(ctx context.Context, userID string, limit, offset int) ([]*models.TokenPurchase, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.repos.TokenPurchase.GetByUserID(ctx, userID, limit, offset)
}

// credit applies a purchase and records the usage event.
func (s *LedgerService) credit(ctx context.Context, purchase *models.TokenPurchase) error {
	balanceAfter, err := s.repos.TokenPurchase.CreateAndCredit(ctx, purchase)
	if err != nil {
		if isDuplicateKeyError(err) {
			s.logger.Info("duplicate payment ignored",
				"user_id", purchase.UserID,
				"stripe_payment_id", purchase.StripePaymentID,
			)
			return ErrDuplicatePurchase
		}
		return fmt.Errorf("failed to credit purchase: %w", err)
	}

	event := &models.UsageEvent{
		ID:        ulid.Make().String(),
		UserID:    purchase.UserID,
		Action:    models.ActionTokensPurchased,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repos.UsageEvent.Create(ctx, event); err != nil {
		s.logger.Error("failed to record purchase event", "user_id", purchase.UserID, "error", err)
	}

	s.logger.Info("credited tokens",
		"user_id", purchase.UserID,
		"type", purchase.Type,
		"tokens", purchase.Tokens,
		"balance_after", balanceAfter,
	)

	return nil
}
