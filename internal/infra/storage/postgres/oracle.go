package postgres

import (
	"context"
	"fmt"
)

// CompletionOracle evaluates quest completion with the fn_is_quest_completed
// database function.
type CompletionOracle struct {
	db *DB
}

// NewCompletionOracle creates a new database-backed completion oracle.
func NewCompletionOracle(db *DB) *CompletionOracle {
	return &CompletionOracle{db: db}
}

// IsQuestCompleted reports whether every task of the quest is verified for the user.
func (o *CompletionOracle) IsQuestCompleted(
	ctx context.Context,
	userID, questID string,
) (bool, error) {
	var completed bool
	if err := o.db.GetContext(ctx, &completed, `SELECT fn_is_quest_completed($1, $2)`, userID, questID); err != nil {
		return false, fmt.Errorf("failed to evaluate quest completion: %w", err)
	}
	return completed, nil
}
