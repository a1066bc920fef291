// Package models defines the domain models for the application.
package models

import "time"

// ========================================
// Users & Token Balances
// ========================================

// User tracks an account and its prepaid token balance.
// TokenBalance is an integer count of generation tokens and never goes
// negative: settlement debits clamp at zero.
type User struct {
	ID                    string    `json:"id"` // identity-provider user ID
	Email                 string    `json:"email"`
	DisplayName           string    `json:"display_name,omitempty"`
	Tier                  string    `json:"tier"`
	TokenBalance          int       `json:"token_balance"`
	TotalTokensPurchased  int       `json:"total_tokens_purchased"`
	TotalTokensUsed       int       `json:"total_tokens_used"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ========================================
// Token Purchases
// ========================================

// TokenPurchaseType defines how tokens were added to a balance.
type TokenPurchaseType string

const (
	PurchaseTypeCheckout   TokenPurchaseType = "checkout"   // Stripe checkout
	PurchaseTypeSignup     TokenPurchaseType = "signup"     // free signup grant
	PurchaseTypeAdjustment TokenPurchaseType = "adjustment" // manual admin adjustment
)

// TokenPurchase provides the audit trail for every credit applied to a
// balance. StripePaymentID is UNIQUE in the database, which is what makes
// webhook redelivery safe: the second insert fails instead of double-crediting.
type TokenPurchase struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Type         TokenPurchaseType `json:"type"`
	Tokens       int               `json:"tokens"`
	AmountUSD    float64           `json:"amount_usd"`
	BalanceAfter int               `json:"balance_after"`

	StripePaymentID *string `json:"stripe_payment_id,omitempty"` // UNIQUE - prevents double-credit

	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
