package domain

import (
	"errors"
	"math/big"
	"testing"
)

func TestClaim_TerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []ClaimStatus{ClaimStatusPaid, ClaimStatusRejected} {
		for _, next := range []ClaimStatus{ClaimStatusPending, ClaimStatusPaid, ClaimStatusRejected} {
			if terminal.CanTransition(next) {
				t.Errorf("Expected %s -> %s to be rejected", terminal, next)
			}
		}
	}
	if ClaimStatusPending.CanTransition(ClaimStatusPending) {
		t.Error("Expected pending -> pending to be rejected")
	}
}

func TestClaim_MarkPaid(t *testing.T) {
	c := &Claim{ID: "c1", RewardAmount: big.NewInt(10), Status: ClaimStatusPending}
	if err := c.MarkPaid("0xabc"); err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}
	if c.Status != ClaimStatusPaid || c.ResultReference != "0xabc" {
		t.Errorf("Unexpected claim state: %s %s", c.Status, c.ResultReference)
	}

	err := c.MarkRejected(ReasonQuestNotCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
	if c.Status != ClaimStatusPaid || c.ResultReference != "0xabc" {
		t.Errorf("Paid claim was modified: %s %s", c.Status, c.ResultReference)
	}
}

func TestTransferFailedReason(t *testing.T) {
	got := TransferFailedReason(errors.New("nonce too low"))
	if got != "transfer failed: nonce too low" {
		t.Errorf("Unexpected reason: %s", got)
	}
}

func TestTaskCursor_NextBlock(t *testing.T) {
	var c *TaskCursor
	if got := c.NextBlock(100); got != 100 {
		t.Errorf("Expected floor 100 for new task, got %d", got)
	}
	c = &TaskCursor{TaskID: "t", LastScannedBlock: 150}
	if got := c.NextBlock(100); got != 151 {
		t.Errorf("Expected 151, got %d", got)
	}
	if got := c.NextBlock(200); got != 200 {
		t.Errorf("Expected raised floor 200, got %d", got)
	}
}
