package storage

import (
	"context"
	"errors"

	"github.com/vietddude/questwatch/internal/core/domain"
)

var (
	// ErrDuplicate is returned when a write collides with a unique key.
	ErrDuplicate = errors.New("duplicate key")

	// ErrClaimNotPending is returned when updating a claim that already reached a terminal state.
	ErrClaimNotPending = errors.New("claim is not pending")

	// ErrClaimNotFound is returned when a claim id does not exist.
	ErrClaimNotFound = errors.New("claim not found")
)

// TaskRepository reads quest task definitions.
type TaskRepository interface {
	// ListActive returns on-chain event tasks in registry order.
	ListActive(ctx context.Context) ([]*domain.TaskDefinition, error)
}

// WalletRepository reads user wallet bindings.
type WalletRepository interface {
	// ListVerified returns all verified bindings in directory order.
	ListVerified(ctx context.Context) ([]*domain.WalletBinding, error)

	// LatestVerified returns the most recently created verified binding for a user,
	// or nil when the user has none.
	LatestVerified(ctx context.Context, userID string) (*domain.WalletBinding, error)
}

// TaskEventRepository persists verified task events.
type TaskEventRepository interface {
	// InsertIfAbsent stores the event unless one already exists for (task, user).
	// It reports whether a new row was written.
	InsertIfAbsent(ctx context.Context, event *domain.VerifiedTaskEvent) (bool, error)

	// Get returns the event for (task, user), or nil.
	Get(ctx context.Context, taskID, userID string) (*domain.VerifiedTaskEvent, error)
}

// ClaimRepository reads and settles reward claims.
type ClaimRepository interface {
	// NextPending returns the oldest pending claim, or nil when the queue is empty.
	NextPending(ctx context.Context) (*domain.Claim, error)

	// ListPending returns up to limit pending claims, oldest first.
	ListPending(ctx context.Context, limit int) ([]*domain.Claim, error)

	// Get returns a claim by id.
	Get(ctx context.Context, id string) (*domain.Claim, error)

	// MarkPaid settles a pending claim. Returns ErrClaimNotPending otherwise.
	MarkPaid(ctx context.Context, id string, txHash string) error

	// MarkRejected rejects a pending claim. Returns ErrClaimNotPending otherwise.
	MarkRejected(ctx context.Context, id string, reason string) error

	// CountByStatus returns claim counts keyed by status.
	CountByStatus(ctx context.Context) (map[domain.ClaimStatus]int, error)
}

// CursorRepository stores per-task scan progress.
type CursorRepository interface {
	// Get returns the cursor for a task, or nil if the task was never scanned.
	Get(ctx context.Context, taskID string) (*domain.TaskCursor, error)

	// Advance moves the cursor forward; it never moves backwards.
	Advance(ctx context.Context, taskID string, block uint64) error

	// Reset sets the cursor to an exact block (operator checkpoint).
	Reset(ctx context.Context, taskID string, block uint64) error

	// List returns all cursors.
	List(ctx context.Context) ([]*domain.TaskCursor, error)

	// CoveredWallets returns the lower-cased addresses already tested against
	// every block the task has scanned.
	CoveredWallets(ctx context.Context, taskID string) (map[string]bool, error)

	// MarkCovered records addresses as tested up to the task cursor.
	MarkCovered(ctx context.Context, taskID string, addresses []string) error
}

// CompletionOracle decides whether a user has satisfied every task of a quest.
type CompletionOracle interface {
	IsQuestCompleted(ctx context.Context, userID, questID string) (bool, error)
}
