package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/vietddude/questwatch/internal/core/domain"
)

// TaskRepo implements storage.TaskRepository using PostgreSQL.
type TaskRepo struct {
	db  *DB
	log *slog.Logger
}

// NewTaskRepo creates a new PostgreSQL task repository.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db, log: slog.Default().With("component", "task_repo")}
}

type taskRow struct {
	ID              string         `db:"id"`
	QuestID         string         `db:"quest_id"`
	ChainID         int64          `db:"chain_id"`
	ContractAddress string         `db:"contract_address"`
	EventSig        string         `db:"event_sig"`
	Topic0          sql.NullString `db:"topic0"`
	ArgFilters      []byte         `db:"arg_filters"`
	MinBlock        sql.NullInt64  `db:"min_block"`
}

func (t *taskRow) toDomain() (*domain.TaskDefinition, error) {
	filters, err := domain.ParseArgFilter(t.ArgFilters)
	if err != nil {
		return nil, err
	}

	task := &domain.TaskDefinition{
		ID:              t.ID,
		QuestID:         t.QuestID,
		ChainID:         domain.ChainID(strconv.FormatInt(t.ChainID, 10)),
		ContractAddress: domain.NormalizeAddress(t.ContractAddress),
		EventSig:        t.EventSig,
		Topic0:          t.Topic0.String,
		ArgFilters:      filters,
	}
	if t.MinBlock.Valid && t.MinBlock.Int64 >= 0 {
		minBlock := uint64(t.MinBlock.Int64)
		task.MinBlock = &minBlock
	}
	return task, nil
}

// ListActive returns on-chain event tasks ordered by creation.
// Tasks with malformed argument filters are skipped and logged.
func (r *TaskRepo) ListActive(ctx context.Context) ([]*domain.TaskDefinition, error) {
	query := `
		SELECT id, quest_id, chain_id, contract_address, event_sig, topic0, arg_filters, min_block
		FROM quest_tasks
		WHERE type = $1
		ORDER BY created_at ASC, id ASC
	`

	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, query, domain.TaskTypeOnchainEvent); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*domain.TaskDefinition, 0, len(rows))
	for i := range rows {
		task, err := rows[i].toDomain()
		if err != nil {
			r.log.Warn("Skipping task with invalid definition", "task", rows[i].ID, "error", err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
