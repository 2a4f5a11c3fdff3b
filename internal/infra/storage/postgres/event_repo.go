package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/questwatch/internal/core/domain"
	"github.com/vietddude/questwatch/internal/infra/storage"
)

// TaskEventRepo implements storage.TaskEventRepository using PostgreSQL.
type TaskEventRepo struct {
	db *DB
}

// NewTaskEventRepo creates a new PostgreSQL task event repository.
func NewTaskEventRepo(db *DB) *TaskEventRepo {
	return &TaskEventRepo{db: db}
}

// InsertIfAbsent writes the event unless (task_id, user_id) already exists.
func (r *TaskEventRepo) InsertIfAbsent(
	ctx context.Context,
	event *domain.VerifiedTaskEvent,
) (bool, error) {
	proof, err := json.Marshal(event.Proof)
	if err != nil {
		return false, fmt.Errorf("failed to encode proof: %w", err)
	}

	status := event.Status
	if status == "" {
		status = domain.TaskEventStatusVerified
	}

	query := `
		INSERT INTO user_task_events (user_id, task_id, wallet_address, tx_hash, occurred_at, proof, status)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (task_id, user_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		event.UserID,
		event.TaskID,
		event.WalletAddress,
		event.TxHash,
		event.OccurredAt.UTC(),
		string(proof),
		string(status),
	)
	if err != nil {
		err = mapPgErr(err)
		if errors.Is(err, storage.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert task event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

type taskEventRow struct {
	TaskID        string    `db:"task_id"`
	UserID        string    `db:"user_id"`
	WalletAddress string    `db:"wallet_address"`
	TxHash        string    `db:"tx_hash"`
	OccurredAt    time.Time `db:"occurred_at"`
	Proof         []byte    `db:"proof"`
	Status        string    `db:"status"`
}

// Get retrieves the event recorded for a task and user.
func (r *TaskEventRepo) Get(
	ctx context.Context,
	taskID, userID string,
) (*domain.VerifiedTaskEvent, error) {
	query := `
		SELECT task_id, user_id, wallet_address, tx_hash, occurred_at, proof, status
		FROM user_task_events
		WHERE task_id = $1 AND user_id = $2
	`

	var row taskEventRow
	err := r.db.GetContext(ctx, &row, query, taskID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task event: %w", err)
	}

	event := &domain.VerifiedTaskEvent{
		TaskID:        row.TaskID,
		UserID:        row.UserID,
		WalletAddress: row.WalletAddress,
		TxHash:        row.TxHash,
		OccurredAt:    row.OccurredAt,
		Status:        domain.TaskEventStatus(row.Status),
	}
	if err := json.Unmarshal(row.Proof, &event.Proof); err != nil {
		return nil, fmt.Errorf("failed to decode proof: %w", err)
	}
	return event, nil
}
