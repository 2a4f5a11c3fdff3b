package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/questwatch/internal/core/domain"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

type cursorRow struct {
	TaskID           string    `db:"task_id"`
	LastScannedBlock int64     `db:"last_scanned_block"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (c *cursorRow) toDomain() *domain.TaskCursor {
	return &domain.TaskCursor{
		TaskID:           c.TaskID,
		LastScannedBlock: uint64(c.LastScannedBlock),
		UpdatedAt:        c.UpdatedAt,
	}
}

// Get retrieves a cursor by task ID.
func (r *CursorRepo) Get(ctx context.Context, taskID string) (*domain.TaskCursor, error) {
	var row cursorRow
	err := r.db.GetContext(ctx, &row,
		`SELECT task_id, last_scanned_block, updated_at FROM task_cursors WHERE task_id = $1`,
		taskID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return row.toDomain(), nil
}

// Advance moves the cursor forward. A lower block leaves it unchanged.
func (r *CursorRepo) Advance(ctx context.Context, taskID string, block uint64) error {
	query := `
		INSERT INTO task_cursors (task_id, last_scanned_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (task_id) DO UPDATE SET
			last_scanned_block = GREATEST(task_cursors.last_scanned_block, EXCLUDED.last_scanned_block),
			updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, taskID, int64(block)); err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	return nil
}

// Reset sets the cursor to an exact block.
func (r *CursorRepo) Reset(ctx context.Context, taskID string, block uint64) error {
	query := `
		INSERT INTO task_cursors (task_id, last_scanned_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (task_id) DO UPDATE SET
			last_scanned_block = EXCLUDED.last_scanned_block,
			updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, taskID, int64(block)); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	return nil
}

// List retrieves all cursors.
func (r *CursorRepo) List(ctx context.Context) ([]*domain.TaskCursor, error) {
	var rows []cursorRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT task_id, last_scanned_block, updated_at FROM task_cursors ORDER BY task_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}

	cursors := make([]*domain.TaskCursor, 0, len(rows))
	for i := range rows {
		cursors = append(cursors, rows[i].toDomain())
	}
	return cursors, nil
}

// CoveredWallets returns the addresses already tested against the task's scanned range.
func (r *CursorRepo) CoveredWallets(ctx context.Context, taskID string) (map[string]bool, error) {
	var addresses []string
	err := r.db.SelectContext(ctx, &addresses,
		`SELECT address FROM task_wallet_coverage WHERE task_id = $1`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list covered wallets: %w", err)
	}

	covered := make(map[string]bool, len(addresses))
	for _, addr := range addresses {
		covered[addr] = true
	}
	return covered, nil
}

// MarkCovered records addresses as tested up to the task cursor.
func (r *CursorRepo) MarkCovered(ctx context.Context, taskID string, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	normalized := make([]string, len(addresses))
	for i, addr := range addresses {
		normalized[i] = domain.NormalizeAddress(addr)
	}

	query := `
		INSERT INTO task_wallet_coverage (task_id, address)
		SELECT $1, UNNEST($2::TEXT[])
		ON CONFLICT (task_id, address) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, taskID, normalized); err != nil {
		return fmt.Errorf("failed to mark wallets covered: %w", err)
	}
	return nil
}
