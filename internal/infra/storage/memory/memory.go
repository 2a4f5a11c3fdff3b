package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/questwatch/internal/core/domain"
	"github.com/vietddude/questwatch/internal/infra/storage"
)

type eventKey struct {
	taskID string
	userID string
}

// MemoryStorage keeps every entity in process memory. It backs tests and
// runs without a database.
type MemoryStorage struct {
	tasks   []*domain.TaskDefinition
	wallets []*domain.WalletBinding
	events  map[eventKey]*domain.VerifiedTaskEvent
	claims  []*domain.Claim
	cursors map[string]*domain.TaskCursor
	// covered is task id -> wallet address -> tested through the cursor.
	covered map[string]map[string]bool
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		events:  make(map[eventKey]*domain.VerifiedTaskEvent),
		cursors: make(map[string]*domain.TaskCursor),
		covered: make(map[string]map[string]bool),
	}
}

// AddTask appends a task to the registry in listing order.
func (s *MemoryStorage) AddTask(task *domain.TaskDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// AddWallet binds an address to a user. A zero CreatedAt is stamped with now.
func (s *MemoryStorage) AddWallet(w *domain.WalletBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	cp.Address = domain.NormalizeAddress(cp.Address)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	for i, existing := range s.wallets {
		if existing.Address == cp.Address {
			s.wallets[i] = &cp
			return
		}
	}
	s.wallets = append(s.wallets, &cp)
}

// AddClaim enqueues a claim, filling in an id, pending status and timestamps when unset.
func (s *MemoryStorage) AddClaim(c *domain.Claim) *domain.Claim {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Status == "" {
		cp.Status = domain.ClaimStatusPending
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	if cp.RewardAmount == nil {
		cp.RewardAmount = new(big.Int)
	}
	s.claims = append(s.claims, &cp)
	return cloneClaim(&cp)
}

// Events returns a snapshot of all recorded task events.
func (s *MemoryStorage) Events() []*domain.VerifiedTaskEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.VerifiedTaskEvent, 0, len(s.events))
	for _, e := range s.events {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func cloneClaim(c *domain.Claim) *domain.Claim {
	cp := *c
	if c.RewardAmount != nil {
		cp.RewardAmount = new(big.Int).Set(c.RewardAmount)
	}
	return &cp
}

// -----------------------------------------------------------------------------
// Task Repository
// -----------------------------------------------------------------------------

type TaskRepo struct {
	store *MemoryStorage
}

func NewTaskRepo(store *MemoryStorage) *TaskRepo {
	return &TaskRepo{store: store}
}

func (r *TaskRepo) ListActive(ctx context.Context) ([]*domain.TaskDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.TaskDefinition, len(r.store.tasks))
	copy(out, r.store.tasks)
	return out, nil
}

// -----------------------------------------------------------------------------
// Wallet Repository
// -----------------------------------------------------------------------------

type WalletRepo struct {
	store *MemoryStorage
}

func NewWalletRepo(store *MemoryStorage) *WalletRepo {
	return &WalletRepo{store: store}
}

func (r *WalletRepo) ListVerified(ctx context.Context) ([]*domain.WalletBinding, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.WalletBinding
	for _, w := range r.store.wallets {
		if w.Verified {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *WalletRepo) LatestVerified(
	ctx context.Context,
	userID string,
) (*domain.WalletBinding, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var latest *domain.WalletBinding
	for _, w := range r.store.wallets {
		if w.UserID != userID || !w.Verified {
			continue
		}
		if latest == nil || w.CreatedAt.After(latest.CreatedAt) {
			latest = w
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// -----------------------------------------------------------------------------
// Task Event Repository
// -----------------------------------------------------------------------------

type TaskEventRepo struct {
	store *MemoryStorage
}

func NewTaskEventRepo(store *MemoryStorage) *TaskEventRepo {
	return &TaskEventRepo{store: store}
}

func (r *TaskEventRepo) InsertIfAbsent(
	ctx context.Context,
	event *domain.VerifiedTaskEvent,
) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := eventKey{taskID: event.TaskID, userID: event.UserID}
	if _, ok := r.store.events[key]; ok {
		return false, nil
	}
	cp := *event
	if cp.Status == "" {
		cp.Status = domain.TaskEventStatusVerified
	}
	r.store.events[key] = &cp
	return true, nil
}

func (r *TaskEventRepo) Get(
	ctx context.Context,
	taskID, userID string,
) (*domain.VerifiedTaskEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	e, ok := r.store.events[eventKey{taskID: taskID, userID: userID}]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// -----------------------------------------------------------------------------
// Claim Repository
// -----------------------------------------------------------------------------

type ClaimRepo struct {
	store *MemoryStorage
}

func NewClaimRepo(store *MemoryStorage) *ClaimRepo {
	return &ClaimRepo{store: store}
}

func (r *ClaimRepo) NextPending(ctx context.Context) (*domain.Claim, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var oldest *domain.Claim
	for _, c := range r.store.claims {
		if c.Status != domain.ClaimStatusPending {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, nil
	}
	return cloneClaim(oldest), nil
}

func (r *ClaimRepo) ListPending(ctx context.Context, limit int) ([]*domain.Claim, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var pending []*domain.Claim
	for _, c := range r.store.claims {
		if c.Status == domain.ClaimStatusPending {
			pending = append(pending, c)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*domain.Claim, len(pending))
	for i, c := range pending {
		out[i] = cloneClaim(c)
	}
	return out, nil
}

func (r *ClaimRepo) Get(ctx context.Context, id string) (*domain.Claim, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, c := range r.store.claims {
		if c.ID == id {
			return cloneClaim(c), nil
		}
	}
	return nil, storage.ErrClaimNotFound
}

func (r *ClaimRepo) MarkPaid(ctx context.Context, id string, txHash string) error {
	return r.settle(id, func(c *domain.Claim) error { return c.MarkPaid(txHash) })
}

func (r *ClaimRepo) MarkRejected(ctx context.Context, id string, reason string) error {
	return r.settle(id, func(c *domain.Claim) error { return c.MarkRejected(reason) })
}

func (r *ClaimRepo) settle(id string, apply func(*domain.Claim) error) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, c := range r.store.claims {
		if c.ID != id {
			continue
		}
		if err := apply(c); err != nil {
			return fmt.Errorf("%w: %s", storage.ErrClaimNotPending, id)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", storage.ErrClaimNotPending, id)
}

func (r *ClaimRepo) CountByStatus(ctx context.Context) (map[domain.ClaimStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.ClaimStatus]int)
	for _, c := range r.store.claims {
		counts[c.Status]++
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	store *MemoryStorage
}

func NewCursorRepo(store *MemoryStorage) *CursorRepo {
	return &CursorRepo{store: store}
}

func (r *CursorRepo) Get(ctx context.Context, taskID string) (*domain.TaskCursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.cursors[taskID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *CursorRepo) Advance(ctx context.Context, taskID string, block uint64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.cursors[taskID]
	if ok && c.LastScannedBlock >= block {
		c.UpdatedAt = time.Now()
		return nil
	}
	r.store.cursors[taskID] = &domain.TaskCursor{
		TaskID:           taskID,
		LastScannedBlock: block,
		UpdatedAt:        time.Now(),
	}
	return nil
}

func (r *CursorRepo) Reset(ctx context.Context, taskID string, block uint64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.cursors[taskID] = &domain.TaskCursor{
		TaskID:           taskID,
		LastScannedBlock: block,
		UpdatedAt:        time.Now(),
	}
	return nil
}

func (r *CursorRepo) List(ctx context.Context) ([]*domain.TaskCursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.TaskCursor, 0, len(r.store.cursors))
	for _, c := range r.store.cursors {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (r *CursorRepo) CoveredWallets(ctx context.Context, taskID string) (map[string]bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make(map[string]bool, len(r.store.covered[taskID]))
	for addr := range r.store.covered[taskID] {
		out[addr] = true
	}
	return out, nil
}

func (r *CursorRepo) MarkCovered(ctx context.Context, taskID string, addresses []string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	set, ok := r.store.covered[taskID]
	if !ok {
		set = make(map[string]bool)
		r.store.covered[taskID] = set
	}
	for _, addr := range addresses {
		set[domain.NormalizeAddress(addr)] = true
	}
	return nil
}

// -----------------------------------------------------------------------------
// Completion Oracle
// -----------------------------------------------------------------------------

// CompletionOracle reports a quest complete when the user has a verified event
// for every registered task of that quest. Quests without tasks are never complete.
type CompletionOracle struct {
	store *MemoryStorage
}

func NewCompletionOracle(store *MemoryStorage) *CompletionOracle {
	return &CompletionOracle{store: store}
}

func (o *CompletionOracle) IsQuestCompleted(
	ctx context.Context,
	userID, questID string,
) (bool, error) {
	o.store.mu.RLock()
	defer o.store.mu.RUnlock()
	found := false
	for _, t := range o.store.tasks {
		if t.QuestID != questID {
			continue
		}
		found = true
		e, ok := o.store.events[eventKey{taskID: t.ID, userID: userID}]
		if !ok || e.Status != domain.TaskEventStatusVerified {
			return false, nil
		}
	}
	return found, nil
}

var (
	_ storage.TaskRepository      = (*TaskRepo)(nil)
	_ storage.WalletRepository    = (*WalletRepo)(nil)
	_ storage.TaskEventRepository = (*TaskEventRepo)(nil)
	_ storage.ClaimRepository     = (*ClaimRepo)(nil)
	_ storage.CursorRepository    = (*CursorRepo)(nil)
	_ storage.CompletionOracle    = (*CompletionOracle)(nil)
)
