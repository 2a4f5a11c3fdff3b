package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/vietddude/questwatch/internal/core/domain"
	"github.com/vietddude/questwatch/internal/infra/storage"
)

func TestTaskEventRepo_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	repo := NewTaskEventRepo(store)

	ev := &domain.VerifiedTaskEvent{TaskID: "t1", UserID: "u1", TxHash: "0x01"}
	inserted, err := repo.InsertIfAbsent(ctx, ev)
	if err != nil || !inserted {
		t.Fatalf("Expected first insert to succeed, got %v %v", inserted, err)
	}

	dup := &domain.VerifiedTaskEvent{TaskID: "t1", UserID: "u1", TxHash: "0x02"}
	inserted, err = repo.InsertIfAbsent(ctx, dup)
	if err != nil || inserted {
		t.Fatalf("Expected duplicate to be ignored, got %v %v", inserted, err)
	}

	got, _ := repo.Get(ctx, "t1", "u1")
	if got.TxHash != "0x01" {
		t.Errorf("Expected original event to be kept, got %s", got.TxHash)
	}
	if got.Status != domain.TaskEventStatusVerified {
		t.Errorf("Expected verified status, got %s", got.Status)
	}
}

func TestClaimRepo_SettleOnlyPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	repo := NewClaimRepo(store)

	c := store.AddClaim(&domain.Claim{UserID: "u1", QuestID: "q1", RewardAmount: big.NewInt(5)})

	if err := repo.MarkPaid(ctx, c.ID, "0xpaid"); err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}
	err := repo.MarkRejected(ctx, c.ID, "late")
	if !errors.Is(err, storage.ErrClaimNotPending) {
		t.Fatalf("Expected ErrClaimNotPending, got %v", err)
	}

	got, _ := repo.Get(ctx, c.ID)
	if got.Status != domain.ClaimStatusPaid || got.ResultReference != "0xpaid" {
		t.Errorf("Paid claim changed: %s %s", got.Status, got.ResultReference)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, storage.ErrClaimNotFound) {
		t.Errorf("Expected ErrClaimNotFound, got %v", err)
	}
}

func TestClaimRepo_NextPendingOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	repo := NewClaimRepo(store)

	now := time.Now()
	store.AddClaim(&domain.Claim{ID: "new", CreatedAt: now})
	store.AddClaim(&domain.Claim{ID: "old", CreatedAt: now.Add(-time.Minute)})

	next, _ := repo.NextPending(ctx)
	if next == nil || next.ID != "old" {
		t.Fatalf("Expected oldest claim, got %+v", next)
	}

	_ = repo.MarkRejected(ctx, "old", domain.ReasonQuestNotCompleted)
	next, _ = repo.NextPending(ctx)
	if next == nil || next.ID != "new" {
		t.Fatalf("Expected next claim, got %+v", next)
	}

	_ = repo.MarkRejected(ctx, "new", domain.ReasonQuestNotCompleted)
	next, _ = repo.NextPending(ctx)
	if next != nil {
		t.Errorf("Expected empty queue, got %+v", next)
	}

	counts, _ := repo.CountByStatus(ctx)
	if counts[domain.ClaimStatusRejected] != 2 {
		t.Errorf("Expected 2 rejected, got %v", counts)
	}
}

func TestWalletRepo_LatestVerified(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	repo := NewWalletRepo(store)

	now := time.Now()
	store.AddWallet(&domain.WalletBinding{Address: "0xAAA", UserID: "u1", Verified: true, CreatedAt: now.Add(-time.Hour)})
	store.AddWallet(&domain.WalletBinding{Address: "0xBBB", UserID: "u1", Verified: true, CreatedAt: now})
	store.AddWallet(&domain.WalletBinding{Address: "0xCCC", UserID: "u1", Verified: false, CreatedAt: now.Add(time.Hour)})

	w, err := repo.LatestVerified(ctx, "u1")
	if err != nil {
		t.Fatalf("LatestVerified failed: %v", err)
	}
	if w == nil || w.Address != "0xbbb" {
		t.Fatalf("Expected 0xbbb, got %+v", w)
	}

	w, _ = repo.LatestVerified(ctx, "u2")
	if w != nil {
		t.Errorf("Expected nil for unknown user, got %+v", w)
	}

	verified, _ := repo.ListVerified(ctx)
	if len(verified) != 2 {
		t.Errorf("Expected 2 verified wallets, got %d", len(verified))
	}
}

func TestCursorRepo_AdvanceNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	repo := NewCursorRepo(NewMemoryStorage())

	_ = repo.Advance(ctx, "t1", 200)
	_ = repo.Advance(ctx, "t1", 150)

	c, _ := repo.Get(ctx, "t1")
	if c.LastScannedBlock != 200 {
		t.Errorf("Expected 200, got %d", c.LastScannedBlock)
	}

	_ = repo.Reset(ctx, "t1", 100)
	c, _ = repo.Get(ctx, "t1")
	if c.LastScannedBlock != 100 {
		t.Errorf("Expected reset to 100, got %d", c.LastScannedBlock)
	}
}

func TestCompletionOracle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	oracle := NewCompletionOracle(store)
	events := NewTaskEventRepo(store)

	done, _ := oracle.IsQuestCompleted(ctx, "u1", "q1")
	if done {
		t.Error("Quest without tasks must not be complete")
	}

	store.AddTask(&domain.TaskDefinition{ID: "t1", QuestID: "q1"})
	store.AddTask(&domain.TaskDefinition{ID: "t2", QuestID: "q1"})

	_, _ = events.InsertIfAbsent(ctx, &domain.VerifiedTaskEvent{TaskID: "t1", UserID: "u1"})
	done, _ = oracle.IsQuestCompleted(ctx, "u1", "q1")
	if done {
		t.Error("Expected incomplete quest with one of two tasks")
	}

	_, _ = events.InsertIfAbsent(ctx, &domain.VerifiedTaskEvent{TaskID: "t2", UserID: "u1"})
	done, _ = oracle.IsQuestCompleted(ctx, "u1", "q1")
	if !done {
		t.Error("Expected quest to be complete")
	}
}

func TestCursorRepo_MarkCovered(t *testing.T) {
	ctx := context.Background()
	repo := NewCursorRepo(NewMemoryStorage())

	if err := repo.MarkCovered(ctx, "t1", []string{"0xABC", "0xdef"}); err != nil {
		t.Fatalf("MarkCovered failed: %v", err)
	}
	_ = repo.MarkCovered(ctx, "t1", []string{"0xabc"})

	covered, err := repo.CoveredWallets(ctx, "t1")
	if err != nil {
		t.Fatalf("CoveredWallets failed: %v", err)
	}
	if len(covered) != 2 || !covered["0xabc"] || !covered["0xdef"] {
		t.Errorf("Unexpected coverage %v", covered)
	}

	other, _ := repo.CoveredWallets(ctx, "t2")
	if len(other) != 0 {
		t.Errorf("Expected no coverage for another task, got %v", other)
	}
}

func TestClaimRepo_ListPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	repo := NewClaimRepo(store)
	now := time.Now()
	store.AddClaim(&domain.Claim{ID: "late", CreatedAt: now})
	store.AddClaim(&domain.Claim{ID: "early", CreatedAt: now.Add(-2 * time.Minute)})
	store.AddClaim(&domain.Claim{ID: "mid", CreatedAt: now.Add(-time.Minute)})
	_ = repo.MarkPaid(ctx, "mid", "0x01")

	pending, err := repo.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "early" || pending[1].ID != "late" {
		t.Fatalf("Unexpected pending order %+v", pending)
	}

	limited, _ := repo.ListPending(ctx, 1)
	if len(limited) != 1 || limited[0].ID != "early" {
		t.Errorf("Expected only the oldest claim, got %+v", limited)
	}
}
