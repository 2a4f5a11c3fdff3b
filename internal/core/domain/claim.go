package domain

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ErrInvalidTransition is returned when a claim would leave a terminal state.
var ErrInvalidTransition = errors.New("invalid claim status transition")

type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "pending"
	ClaimStatusPaid     ClaimStatus = "paid"
	ClaimStatusRejected ClaimStatus = "rejected"
)

// Rejection reasons recorded as the claim's result reference.
const (
	ReasonNoVerifiedWallet  = "no verified wallet"
	ReasonQuestNotCompleted = "quest not completed"
)

// TransferFailedReason formats the rejection reason for a failed payment.
func TransferFailedReason(err error) string {
	return fmt.Sprintf("transfer failed: %v", err)
}

// IsTerminal reports whether no further transition is allowed.
func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimStatusPaid || s == ClaimStatusRejected
}

// CanTransition reports whether s may move to next. Only pending claims move,
// and only to a terminal state.
func (s ClaimStatus) CanTransition(next ClaimStatus) bool {
	return s == ClaimStatusPending && next.IsTerminal()
}

// Claim is a request to pay a quest reward to a user.
type Claim struct {
	ID      string
	UserID  string
	QuestID string
	// RewardAmount is in the token's smallest unit.
	RewardAmount    *big.Int
	Status          ClaimStatus
	ResultReference string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MarkPaid moves a pending claim to paid.
func (c *Claim) MarkPaid(txHash string) error {
	return c.transition(ClaimStatusPaid, txHash)
}

// MarkRejected moves a pending claim to rejected.
func (c *Claim) MarkRejected(reason string) error {
	return c.transition(ClaimStatusRejected, reason)
}

func (c *Claim) transition(next ClaimStatus, ref string) error {
	if !c.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
	}
	c.Status = next
	c.ResultReference = ref
	c.UpdatedAt = time.Now()
	return nil
}
