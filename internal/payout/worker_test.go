package payout

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/questwatch/internal/core/domain"
	"github.com/vietddude/questwatch/internal/infra/storage"
	"github.com/vietddude/questwatch/internal/infra/storage/memory"
)

// =============================================================================
// Mocks
// =============================================================================

type transfer struct {
	to     string
	amount *big.Int
}

type mockToken struct {
	mu        sync.Mutex
	transfers []transfer
	err       error
	onSend    func(ctx context.Context)
}

func (m *mockToken) Transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	if m.onSend != nil {
		m.onSend(ctx)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.transfers = append(m.transfers, transfer{to: to, amount: amount})
	return "0xfeed", nil
}

type stubOracle struct {
	done bool
	err  error
}

func (s stubOracle) IsQuestCompleted(ctx context.Context, userID, questID string) (bool, error) {
	return s.done, s.err
}

type stubLease struct {
	deny bool
	// held lists claims leased by another instance.
	held     map[string]bool
	acquired []string
	released []string
}

func (s *stubLease) Acquire(ctx context.Context, claimID string) (string, bool, error) {
	if s.deny || s.held[claimID] {
		return "", false, nil
	}
	s.acquired = append(s.acquired, claimID)
	return "token-" + claimID, true, nil
}

func (s *stubLease) Release(ctx context.Context, claimID, token string) error {
	s.released = append(s.released, token)
	return nil
}

// flakyClaims fails MarkPaid a fixed number of times.
type flakyClaims struct {
	storage.ClaimRepository
	failPaid int
}

func (f *flakyClaims) MarkPaid(ctx context.Context, id, txHash string) error {
	if f.failPaid > 0 {
		f.failPaid--
		return errors.New("connection reset by peer")
	}
	return f.ClaimRepository.MarkPaid(ctx, id, txHash)
}

// =============================================================================
// Helpers
// =============================================================================

const (
	older = "0x1000000000000000000000000000000000000001"
	newer = "0x2000000000000000000000000000000000000002"
)

type fixture struct {
	store  *memory.MemoryStorage
	claims storage.ClaimRepository
	token  *mockToken
}

func newFixture() *fixture {
	store := memory.NewMemoryStorage()
	return &fixture{
		store:  store,
		claims: memory.NewClaimRepo(store),
		token:  &mockToken{},
	}
}

func (f *fixture) worker(oracle storage.CompletionOracle, opts ...Option) *Worker {
	w := NewWorker(f.claims, memory.NewWalletRepo(f.store), oracle, f.token, opts...)
	w.recordBackoff = func() retry.Backoff {
		return retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
	}
	return w
}

// completeQuest registers one task for the quest and verifies it for the user.
func (f *fixture) completeQuest(t *testing.T, userID, questID string) {
	t.Helper()
	f.store.AddTask(&domain.TaskDefinition{ID: questID + "-task", QuestID: questID})
	_, err := memory.NewTaskEventRepo(f.store).InsertIfAbsent(context.Background(), &domain.VerifiedTaskEvent{
		TaskID: questID + "-task",
		UserID: userID,
	})
	if err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}
}

func (f *fixture) claim(t *testing.T, id string) *domain.Claim {
	t.Helper()
	c, err := f.claims.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return c
}

// =============================================================================
// Tests
// =============================================================================

func TestProcessNext_EmptyQueue(t *testing.T) {
	f := newFixture()
	processed, err := f.worker(stubOracle{done: true}).ProcessNext(context.Background())
	if err != nil || processed {
		t.Fatalf("Expected no work, got %v %v", processed, err)
	}
}

func TestProcessNext_IncompleteQuestRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.AddTask(&domain.TaskDefinition{ID: "t1", QuestID: "q1"})
	f.store.AddTask(&domain.TaskDefinition{ID: "t2", QuestID: "q1"})
	_, _ = memory.NewTaskEventRepo(f.store).InsertIfAbsent(ctx, &domain.VerifiedTaskEvent{TaskID: "t1", UserID: "U1"})
	f.store.AddWallet(&domain.WalletBinding{Address: older, UserID: "U1", Verified: true})
	f.store.AddClaim(&domain.Claim{ID: "c1", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(10)})

	processed, err := f.worker(memory.NewCompletionOracle(f.store)).ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("ProcessNext: %v %v", processed, err)
	}

	c := f.claim(t, "c1")
	if c.Status != domain.ClaimStatusRejected || c.ResultReference != "quest not completed" {
		t.Errorf("Expected rejected(quest not completed), got %s(%s)", c.Status, c.ResultReference)
	}
	if len(f.token.transfers) != 0 {
		t.Errorf("Expected no transfer, got %d", len(f.token.transfers))
	}
}

func TestProcessNext_PaysLatestVerifiedWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	now := time.Now()
	f.store.AddWallet(&domain.WalletBinding{Address: older, UserID: "U1", Verified: true, CreatedAt: now.Add(-time.Hour)})
	f.store.AddWallet(&domain.WalletBinding{Address: newer, UserID: "U1", Verified: true, CreatedAt: now})
	f.completeQuest(t, "U1", "q1")
	f.store.AddClaim(&domain.Claim{ID: "c1", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(500)})

	processed, err := f.worker(memory.NewCompletionOracle(f.store)).ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("ProcessNext: %v %v", processed, err)
	}

	if len(f.token.transfers) != 1 {
		t.Fatalf("Expected 1 transfer, got %d", len(f.token.transfers))
	}
	tr := f.token.transfers[0]
	if tr.to != newer || tr.amount.Int64() != 500 {
		t.Errorf("Unexpected transfer %+v", tr)
	}

	c := f.claim(t, "c1")
	if c.Status != domain.ClaimStatusPaid || c.ResultReference != "0xfeed" {
		t.Errorf("Expected paid(0xfeed), got %s(%s)", c.Status, c.ResultReference)
	}
}

func TestProcessNext_TransferFailureRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.token.err = errors.New("dial tcp 10.0.0.1:8545: connection refused")
	f.store.AddWallet(&domain.WalletBinding{Address: older, UserID: "U1", Verified: true})
	f.completeQuest(t, "U1", "q1")
	f.store.AddClaim(&domain.Claim{ID: "c1", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(1)})
	eventsBefore := len(f.store.Events())

	if _, err := f.worker(memory.NewCompletionOracle(f.store)).ProcessNext(ctx); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}

	c := f.claim(t, "c1")
	if c.Status != domain.ClaimStatusRejected {
		t.Fatalf("Expected rejected, got %s", c.Status)
	}
	if !strings.HasPrefix(c.ResultReference, "transfer failed: ") ||
		!strings.Contains(c.ResultReference, "connection refused") {
		t.Errorf("Unexpected reason %q", c.ResultReference)
	}
	if len(f.store.Events()) != eventsBefore {
		t.Error("Expected task events to be untouched")
	}
}

func TestProcessNext_NoVerifiedWallet(t *testing.T) {
	f := newFixture()
	f.store.AddWallet(&domain.WalletBinding{Address: older, UserID: "U1", Verified: false})
	f.store.AddClaim(&domain.Claim{ID: "c1", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(1)})

	if _, err := f.worker(stubOracle{done: true}).ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}
	c := f.claim(t, "c1")
	if c.Status != domain.ClaimStatusRejected || c.ResultReference != "no verified wallet" {
		t.Errorf("Expected rejected(no verified wallet), got %s(%s)", c.Status, c.ResultReference)
	}
}

func TestProcessNext_OracleErrorRejects(t *testing.T) {
	f := newFixture()
	f.store.AddWallet(&domain.WalletBinding{Address: older, UserID: "U1", Verified: true})
	f.store.AddClaim(&domain.Claim{ID: "c1", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(1)})

	w := f.worker(stubOracle{err: errors.New("function does not exist")})
	if _, err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}
	if c := f.claim(t, "c1"); c.ResultReference != domain.ReasonQuestNotCompleted {
		t.Errorf("Expected quest not completed, got %s", c.ResultReference)
	}
	if len(f.token.transfers) != 0 {
		t.Error("Expected no transfer")
	}
}

func TestProcessNext_PaysAtMostOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.AddWallet(&domain.WalletBinding{Address: older, UserID: "U1", Verified: true})
	f.store.AddClaim(&domain.Claim{ID: "c1", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(1)})

	w := f.worker(stubOracle{done: true})
	for i := 0; i < 3; i++ {
		if _, err := w.ProcessNext(ctx); err != nil {
			t.Fatalf("ProcessNext %d failed: %v", i, err)
		}
	}
	if len(f.token.transfers) != 1 {
		t.Errorf("Expected exactly one transfer, got %d", len(f.token.transfers))
	}

	err := f.claims.MarkRejected(ctx, "c1", "late")
	if !errors.Is(err, storage.ErrClaimNotPending) {
		t.Errorf("Expected terminal claim to refuse update, got %v", err)
	}
	if c := f.claim(t, "c1"); c.Status != domain.ClaimStatusPaid {
		t.Errorf("Expected paid claim to stay paid, got %s", c.Status)
	}
}

func TestProcessNext_OldestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	now := time.Now()
	f.store.AddClaim(&domain.Claim{ID: "second", UserID: "U1", QuestID: "q", CreatedAt: now})
	f.store.AddClaim(&domain.Claim{ID: "first", UserID: "U1", QuestID: "q", CreatedAt: now.Add(-time.Minute)})

	w := f.worker(stubOracle{done: true})
	_, _ = w.ProcessNext(ctx)

	if c := f.claim(t, "first"); c.Status != domain.ClaimStatusRejected {
		t.Errorf("Expected oldest claim to be processed first, got %s", c.Status)
	}
	if c := f.claim(t, "second"); c.Status != domain.ClaimStatusPending {
		t.Errorf("Expected newer claim to wait, got %s", c.Status)
	}
}

func TestProcessNext_ShutdownDoesNotInterruptClaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture()
	f.store.AddWallet(&domain.WalletBinding{Address: older, UserID: "U1", Verified: true})
	f.store.AddClaim(&domain.Claim{ID: "c1", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(1)})
	f.token.onSend = func(context.Context) { cancel() }

	if _, err := f.worker(stubOracle{done: true}).ProcessNext(ctx); err != nil {
		t.Fatalf("ProcessNext failed: %v", err)
	}
	if c := f.claim(t, "c1"); c.Status != domain.ClaimStatusPaid {
		t.Errorf("Expected claim to finish despite shutdown, got %s(%s)", c.Status, c.ResultReference)
	}
}

func TestProcessNext_RecordsPaymentWithoutResending(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.AddWallet(&domain.WalletBinding{Address: older, UserID: "U1", Verified: true})
	f.store.AddClaim(&domain.Claim{ID: "c1", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(1)})
	f.claims = &flakyClaims{ClaimRepository: f.claims, failPaid: 2}

	w := f.worker(stubOracle{done: true})
	if _, err := w.ProcessNext(ctx); err == nil {
		t.Fatal("Expected error when paid status cannot be stored")
	}
	if c := f.claim(t, "c1"); c.Status != domain.ClaimStatusPending {
		t.Fatalf("Expected claim still pending, got %s", c.Status)
	}

	if _, err := w.ProcessNext(ctx); err != nil {
		t.Fatalf("ProcessNext retry failed: %v", err)
	}
	if len(f.token.transfers) != 1 {
		t.Errorf("Expected a single transfer, got %d", len(f.token.transfers))
	}
	if c := f.claim(t, "c1"); c.Status != domain.ClaimStatusPaid || c.ResultReference != "0xfeed" {
		t.Errorf("Expected paid(0xfeed), got %s(%s)", c.Status, c.ResultReference)
	}
}

func TestProcessNext_Lease(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.AddWallet(&domain.WalletBinding{Address: older, UserID: "U1", Verified: true})
	f.store.AddClaim(&domain.Claim{ID: "c1", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(1)})

	denied := &stubLease{deny: true}
	processed, err := f.worker(stubOracle{done: true}, WithLease(denied)).ProcessNext(ctx)
	if err != nil || processed {
		t.Fatalf("Expected leased claim to be skipped, got %v %v", processed, err)
	}
	if len(f.token.transfers) != 0 {
		t.Fatal("Expected no transfer without lease")
	}

	lease := &stubLease{}
	processed, err = f.worker(stubOracle{done: true}, WithLease(lease)).ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("ProcessNext: %v %v", processed, err)
	}
	if len(lease.acquired) != 1 || len(lease.released) != 1 || lease.released[0] != "token-c1" {
		t.Errorf("Expected lease to be acquired and released, got %+v", lease)
	}
	if c := f.claim(t, "c1"); c.Status != domain.ClaimStatusPaid {
		t.Errorf("Expected paid, got %s", c.Status)
	}
}

func TestProcessNext_LeaseSkipsClaimHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.AddWallet(&domain.WalletBinding{Address: older, UserID: "U1", Verified: true})
	now := time.Now()
	f.store.AddClaim(&domain.Claim{
		ID: "c1", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(1), CreatedAt: now.Add(-time.Minute),
	})
	f.store.AddClaim(&domain.Claim{
		ID: "c2", UserID: "U1", QuestID: "q1", RewardAmount: big.NewInt(2), CreatedAt: now,
	})

	lease := &stubLease{held: map[string]bool{"c1": true}}
	processed, err := f.worker(stubOracle{done: true}, WithLease(lease)).ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("Expected the next free claim to be settled, got %v %v", processed, err)
	}

	if c := f.claim(t, "c1"); c.Status != domain.ClaimStatusPending {
		t.Errorf("Expected c1 to stay pending for its holder, got %s", c.Status)
	}
	if c := f.claim(t, "c2"); c.Status != domain.ClaimStatusPaid {
		t.Errorf("Expected c2 paid, got %s", c.Status)
	}
	if len(f.token.transfers) != 1 || f.token.transfers[0].amount.Int64() != 2 {
		t.Errorf("Expected one transfer of 2, got %+v", f.token.transfers)
	}
}
