// Package payout drains the claim queue, paying each claim at most once.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/questwatch/internal/core/domain"
	"github.com/vietddude/questwatch/internal/indexing/metrics"
	"github.com/vietddude/questwatch/internal/infra/chain"
	"github.com/vietddude/questwatch/internal/infra/storage"
)

// ClaimLease guards a claim against concurrent processing by another instance.
type ClaimLease interface {
	// Acquire returns a token when the lease was taken, or ok=false when
	// another holder has it.
	Acquire(ctx context.Context, claimID string) (token string, ok bool, err error)
	Release(ctx context.Context, claimID, token string) error
}

// Option configures a Worker.
type Option func(*Worker)

// WithLease enables per-claim leasing.
func WithLease(lease ClaimLease) Option {
	return func(w *Worker) {
		w.lease = lease
	}
}

// Worker settles pending claims one at a time.
type Worker struct {
	claims  storage.ClaimRepository
	wallets storage.WalletRepository
	oracle  storage.CompletionOracle
	token   chain.TokenTransferer
	lease   ClaimLease
	log     *slog.Logger

	// leaseBatch is how many queue-head claims are tried for a lease per step.
	leaseBatch int

	recordBackoff func() retry.Backoff

	// Transfers that confirmed but whose paid status has not been stored yet.
	// These claims are never transferred again.
	mu         sync.Mutex
	unrecorded map[string]string
}

// NewWorker creates a payout worker.
func NewWorker(
	claims storage.ClaimRepository,
	wallets storage.WalletRepository,
	oracle storage.CompletionOracle,
	token chain.TokenTransferer,
	opts ...Option,
) *Worker {
	w := &Worker{
		claims:  claims,
		wallets: wallets,
		oracle:  oracle,
		token:   token,
		log:     slog.Default().With("component", "payout"),
		recordBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
		},
		unrecorded: make(map[string]string),
		leaseBatch: 16,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.lease == nil {
		w.log.Warn("Claim lease disabled, run a single payout instance")
	}
	return w
}

// Step adapts ProcessNext to a worker loop step.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	return w.ProcessNext(ctx)
}

// ProcessNext settles the oldest pending claim. It reports false when there
// was nothing to do. Once a claim is picked up it is driven to a terminal state
// even if ctx is cancelled.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	if w.lease != nil {
		return w.processLeased(ctx)
	}

	claim, err := w.claims.NextPending(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch pending claim: %w", err)
	}
	if claim == nil {
		return false, nil
	}
	return true, w.settle(context.WithoutCancel(ctx), claim)
}

// processLeased settles the oldest pending claim not leased by another
// instance, so concurrent workers spread over the queue head.
func (w *Worker) processLeased(ctx context.Context) (bool, error) {
	candidates, err := w.claims.ListPending(ctx, w.leaseBatch)
	if err != nil {
		return false, fmt.Errorf("fetch pending claims: %w", err)
	}

	for _, claim := range candidates {
		token, ok, err := w.lease.Acquire(ctx, claim.ID)
		if err != nil {
			return false, fmt.Errorf("acquire lease: %w", err)
		}
		if !ok {
			w.log.Debug("Claim leased elsewhere", "claim", claim.ID)
			continue
		}
		return true, w.settleLeased(ctx, claim.ID, token)
	}
	return false, nil
}

func (w *Worker) settleLeased(ctx context.Context, id, token string) error {
	defer func() {
		if err := w.lease.Release(context.WithoutCancel(ctx), id, token); err != nil {
			w.log.Warn("Failed to release lease", "claim", id, "error", err)
		}
	}()

	// Another holder may have settled it between fetch and lease.
	claim, err := w.claims.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("reload claim: %w", err)
	}
	if claim.Status.IsTerminal() {
		return nil
	}
	return w.settle(context.WithoutCancel(ctx), claim)
}

func (w *Worker) settle(ctx context.Context, claim *domain.Claim) error {
	log := w.log.With("claim", claim.ID, "user", claim.UserID, "quest", claim.QuestID)

	if txHash, ok := w.pendingRecord(claim.ID); ok {
		log.Warn("Retrying paid status for confirmed transfer", "tx", txHash)
		return w.recordPaid(ctx, claim, txHash)
	}

	wallet, err := w.wallets.LatestVerified(ctx, claim.UserID)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	if wallet == nil {
		return w.reject(ctx, claim, domain.ReasonNoVerifiedWallet, "no_wallet")
	}

	done, err := w.oracle.IsQuestCompleted(ctx, claim.UserID, claim.QuestID)
	if err != nil {
		log.Warn("Completion check failed", "error", err)
		return w.reject(ctx, claim, domain.ReasonQuestNotCompleted, "not_completed")
	}
	if !done {
		return w.reject(ctx, claim, domain.ReasonQuestNotCompleted, "not_completed")
	}

	start := time.Now()
	txHash, err := w.token.Transfer(ctx, wallet.Address, claim.RewardAmount)
	metrics.TransferLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("Transfer failed", "wallet", wallet.Address, "error", err)
		return w.reject(ctx, claim, domain.TransferFailedReason(err), "transfer_failed")
	}

	log.Info("Transfer confirmed", "wallet", wallet.Address, "amount", claim.RewardAmount.String(), "tx", txHash)
	return w.recordPaid(ctx, claim, txHash)
}

func (w *Worker) recordPaid(ctx context.Context, claim *domain.Claim, txHash string) error {
	err := retry.Do(ctx, w.recordBackoff(), func(ctx context.Context) error {
		err := w.claims.MarkPaid(ctx, claim.ID, txHash)
		if err == nil || errors.Is(err, storage.ErrClaimNotPending) {
			return err
		}
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		w.clearRecord(claim.ID)
		metrics.ClaimsSettled.WithLabelValues(string(domain.ClaimStatusPaid), "").Inc()
		return nil
	case errors.Is(err, storage.ErrClaimNotPending):
		w.clearRecord(claim.ID)
		w.log.Error("Claim settled elsewhere after transfer", "claim", claim.ID, "tx", txHash)
		return nil
	default:
		w.keepRecord(claim.ID, txHash)
		return fmt.Errorf("record payment %s for claim %s: %w", txHash, claim.ID, err)
	}
}

func (w *Worker) reject(ctx context.Context, claim *domain.Claim, reason, label string) error {
	err := w.claims.MarkRejected(ctx, claim.ID, reason)
	if errors.Is(err, storage.ErrClaimNotPending) {
		w.log.Warn("Claim already settled", "claim", claim.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reject claim %s: %w", claim.ID, err)
	}
	metrics.ClaimsSettled.WithLabelValues(string(domain.ClaimStatusRejected), label).Inc()
	w.log.Info("Claim rejected", "claim", claim.ID, "user", claim.UserID, "reason", reason)
	return nil
}

func (w *Worker) pendingRecord(id string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx, ok := w.unrecorded[id]
	return tx, ok
}

func (w *Worker) keepRecord(id, txHash string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unrecorded[id] = txHash
}

func (w *Worker) clearRecord(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.unrecorded, id)
}
