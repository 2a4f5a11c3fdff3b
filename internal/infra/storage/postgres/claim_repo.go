package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/questwatch/internal/core/domain"
	"github.com/vietddude/questwatch/internal/infra/storage"
)

// ClaimRepo implements storage.ClaimRepository using PostgreSQL.
type ClaimRepo struct {
	db *DB
}

// NewClaimRepo creates a new PostgreSQL claim repository.
func NewClaimRepo(db *DB) *ClaimRepo {
	return &ClaimRepo{db: db}
}

const claimColumns = `id, user_id, quest_id, reward_amount, status, COALESCE(result_reference, '') AS result_reference, created_at, updated_at`

type claimRow struct {
	ID              string          `db:"id"`
	UserID          string          `db:"user_id"`
	QuestID         string          `db:"quest_id"`
	RewardAmount    decimal.Decimal `db:"reward_amount"`
	Status          string          `db:"status"`
	ResultReference string          `db:"result_reference"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (c *claimRow) toDomain() *domain.Claim {
	return &domain.Claim{
		ID:              c.ID,
		UserID:          c.UserID,
		QuestID:         c.QuestID,
		RewardAmount:    c.RewardAmount.BigInt(),
		Status:          domain.ClaimStatus(c.Status),
		ResultReference: c.ResultReference,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// NextPending retrieves the oldest pending claim.
func (r *ClaimRepo) NextPending(ctx context.Context) (*domain.Claim, error) {
	query := `SELECT ` + claimColumns + `
		FROM quest_claims
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`

	var row claimRow
	err := r.db.GetContext(ctx, &row, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending claim: %w", err)
	}
	return row.toDomain(), nil
}

// ListPending retrieves up to limit pending claims, oldest first.
func (r *ClaimRepo) ListPending(ctx context.Context, limit int) ([]*domain.Claim, error) {
	query := `SELECT ` + claimColumns + `
		FROM quest_claims
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`

	var rows []claimRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending claims: %w", err)
	}

	claims := make([]*domain.Claim, 0, len(rows))
	for i := range rows {
		claims = append(claims, rows[i].toDomain())
	}
	return claims, nil
}

// Get retrieves a claim by id.
func (r *ClaimRepo) Get(ctx context.Context, id string) (*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM quest_claims WHERE id = $1`

	var row claimRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrClaimNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return row.toDomain(), nil
}

// MarkPaid settles a pending claim with its confirmed transaction hash.
func (r *ClaimRepo) MarkPaid(ctx context.Context, id string, txHash string) error {
	return r.settle(ctx, id, domain.ClaimStatusPaid, txHash)
}

// MarkRejected rejects a pending claim with a reason.
func (r *ClaimRepo) MarkRejected(ctx context.Context, id string, reason string) error {
	return r.settle(ctx, id, domain.ClaimStatusRejected, reason)
}

// settle only touches rows still pending, so terminal claims are never revisited.
func (r *ClaimRepo) settle(
	ctx context.Context,
	id string,
	status domain.ClaimStatus,
	ref string,
) error {
	query := `
		UPDATE quest_claims
		SET status = $2, result_reference = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status), ref)
	if err != nil {
		return fmt.Errorf("failed to mark claim %s: %w", status, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrClaimNotPending, id)
	}
	return nil
}

// CountByStatus returns the number of claims in each status.
func (r *ClaimRepo) CountByStatus(ctx context.Context) (map[domain.ClaimStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM quest_claims GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count claims: %w", err)
	}

	counts := make(map[domain.ClaimStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.ClaimStatus(row.Status)] = row.Count
	}
	return counts, nil
}
