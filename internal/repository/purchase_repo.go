package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
)

// SQLiteTokenPurchaseRepository implements TokenPurchaseRepository for SQLite.
type SQLiteTokenPurchaseRepository struct {
	db *sql.DB
}

// NewSQLiteTokenPurchaseRepository creates a new SQLite token purchase repository.
func NewSQLiteTokenPurchaseRepository(db *sql.DB) *SQLiteTokenPurchaseRepository {
	return &SQLiteTokenPurchaseRepository{db: db}
}

// CreateAndCredit inserts the purchase record and credits the user's balance
// in one transaction. The insert runs first so a duplicate stripe_payment_id
// hits the UNIQUE constraint before any balance movement happens.
func (r *SQLiteTokenPurchaseRepository) CreateAndCredit(ctx context.Context, purchase *models.TokenPurchase) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	query := `
		INSERT INTO token_purchases (id, user_id, type, tokens, amount_usd, balance_after,
			stripe_payment_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		purchase.ID,
		purchase.UserID,
		purchase.Type,
		purchase.Tokens,
		purchase.AmountUSD,
		0, // balance_after backfilled below once the credit has landed
		nullStringPtr(purchase.StripePaymentID),
		nullString(purchase.Description),
		purchase.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create token purchase: %w", err)
	}

	var balanceAfter int
	err = tx.QueryRowContext(ctx, `
		UPDATE users
		SET token_balance = token_balance + ?,
			total_tokens_purchased = total_tokens_purchased + ?,
			updated_at = ?
		WHERE id = ?
		RETURNING token_balance
	`, purchase.Tokens, purchase.Tokens, time.Now().Format(time.RFC3339), purchase.UserID).Scan(&balanceAfter)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("failed to credit balance: user %s not found", purchase.UserID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE token_purchases SET balance_after = ? WHERE id = ?`,
		balanceAfter, purchase.ID,
	); err != nil {
		return 0, fmt.Errorf("failed to record balance after: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	purchase.BalanceAfter = balanceAfter
	return balanceAfter, nil
}

func (r *SQLiteTokenPurchaseRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.TokenPurchase, error) {
	query := `
		SELECT id, user_id, type, tokens, amount_usd, balance_after, stripe_payment_id, description, created_at
		FROM token_purchases WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query token purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*models.TokenPurchase
	for rows.Next() {
		purchase, err := r.scanPurchaseFromRows(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, purchase)
	}
	return purchases, rows.Err()
}

func (r *SQLiteTokenPurchaseRepository) GetByStripePaymentID(ctx context.Context, stripePaymentID string) (*models.TokenPurchase, error) {
	query := `
		SELECT id, user_id, type, tokens, amount_usd, balance_after, stripe_payment_id, description, created_at
		FROM token_purchases WHERE stripe_payment_id = ?
	`
	var purchase models.TokenPurchase
	var stripeID, description sql.NullString
	var createdAt string
	err := r.db.QueryRowContext(ctx, query, stripePaymentID).Scan(
		&purchase.ID, &purchase.UserID, &purchase.Type, &purchase.Tokens,
		&purchase.AmountUSD, &purchase.BalanceAfter, &stripeID, &description, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan token purchase: %w", err)
	}
	if stripeID.Valid {
		purchase.StripePaymentID = &stripeID.String
	}
	purchase.Description = description.String
	purchase.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &purchase, nil
}

func (r *SQLiteTokenPurchaseRepository) scanPurchaseFromRows(rows *sql.Rows) (*models.TokenPurchase, error) {
	var purchase models.TokenPurchase
	var stripeID, description sql.NullString
	var createdAt string
	err := rows.Scan(
		&purchase.ID, &purchase.UserID, &purchase.Type, &purchase.Tokens,
		&purchase.AmountUSD, &purchase.BalanceAfter, &stripeID, &description, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan token purchase: %w", err)
	}
	if stripeID.Valid {
		purchase.StripePaymentID = &stripeID.String
	}
	purchase.Description = description.String
	purchase.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &purchase, nil
}
