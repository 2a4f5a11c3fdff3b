package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/questwatch/internal/core/domain"
)

// WalletRepo implements storage.WalletRepository using PostgreSQL.
type WalletRepo struct {
	db *DB
}

// NewWalletRepo creates a new PostgreSQL wallet repository.
func NewWalletRepo(db *DB) *WalletRepo {
	return &WalletRepo{db: db}
}

type walletRow struct {
	Address   string    `db:"address"`
	UserID    string    `db:"user_id"`
	Verified  bool      `db:"verified"`
	CreatedAt time.Time `db:"created_at"`
}

func (w *walletRow) toDomain() *domain.WalletBinding {
	return &domain.WalletBinding{
		Address:   domain.NormalizeAddress(w.Address),
		UserID:    w.UserID,
		Verified:  w.Verified,
		CreatedAt: w.CreatedAt,
	}
}

// ListVerified retrieves all verified bindings.
func (r *WalletRepo) ListVerified(ctx context.Context) ([]*domain.WalletBinding, error) {
	query := `
		SELECT address, user_id, verified, created_at
		FROM wallets
		WHERE verified = TRUE
		ORDER BY created_at ASC, address ASC
	`

	var rows []walletRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list verified wallets: %w", err)
	}

	wallets := make([]*domain.WalletBinding, 0, len(rows))
	for i := range rows {
		wallets = append(wallets, rows[i].toDomain())
	}
	return wallets, nil
}

// LatestVerified retrieves the newest verified binding for a user.
func (r *WalletRepo) LatestVerified(
	ctx context.Context,
	userID string,
) (*domain.WalletBinding, error) {
	query := `
		SELECT address, user_id, verified, created_at
		FROM wallets
		WHERE user_id = $1 AND verified = TRUE
		ORDER BY created_at DESC
		LIMIT 1
	`

	var row walletRow
	err := r.db.GetContext(ctx, &row, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user wallet: %w", err)
	}
	return row.toDomain(), nil
}
