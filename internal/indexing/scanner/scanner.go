// Package scanner reconciles on-chain logs against quest task definitions and
// verified wallets, recording one verified event per (task, user).
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/questwatch/internal/core/domain"
	"github.com/vietddude/questwatch/internal/indexing/filter"
	"github.com/vietddude/questwatch/internal/indexing/metrics"
	"github.com/vietddude/questwatch/internal/infra/chain"
	"github.com/vietddude/questwatch/internal/infra/chain/evm"
	"github.com/vietddude/questwatch/internal/infra/storage"
)

// Config holds scanner settings.
type Config struct {
	ChainID           domain.ChainID
	DefaultStartBlock uint64
	MaxBlockRange     uint64
	// Confirmations keeps the scan this many blocks behind head.
	Confirmations uint64
}

// Scanner runs scan cycles over every active task.
type Scanner struct {
	cfg     Config
	chain   chain.Reader
	tasks   storage.TaskRepository
	wallets storage.WalletRepository
	events  storage.TaskEventRepository
	cursors storage.CursorRepository
	log     *slog.Logger

	sigMu  sync.Mutex
	parsed map[string]*evm.Event
}

// New creates a scanner.
func New(
	cfg Config,
	reader chain.Reader,
	tasks storage.TaskRepository,
	wallets storage.WalletRepository,
	events storage.TaskEventRepository,
	cursors storage.CursorRepository,
) *Scanner {
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 2000
	}
	return &Scanner{
		cfg:     cfg,
		chain:   reader,
		tasks:   tasks,
		wallets: wallets,
		events:  events,
		cursors: cursors,
		log:     slog.Default().With("component", "scanner", "chain", cfg.ChainID.Name()),
		parsed:  make(map[string]*evm.Event),
	}
}

// cycle holds state shared by all tasks within one scan cycle.
type cycle struct {
	wallets    []*domain.WalletBinding
	safeHead   uint64
	timestamps map[uint64]time.Time
}

// Step adapts RunCycle to a worker loop step.
func (s *Scanner) Step(ctx context.Context) (bool, error) {
	return false, s.RunCycle(ctx)
}

// RunCycle scans every active task once. A failing task is logged and skipped;
// only failures shared by all tasks are returned.
func (s *Scanner) RunCycle(ctx context.Context) error {
	tasks, err := s.tasks.ListActive(ctx)
	if err != nil {
		metrics.ScannerCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("load tasks: %w", err)
	}
	wallets, err := s.wallets.ListVerified(ctx)
	if err != nil {
		metrics.ScannerCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("load wallets: %w", err)
	}
	if len(tasks) == 0 {
		metrics.ScannerCycles.WithLabelValues("ok").Inc()
		return nil
	}

	head, err := s.chain.LatestBlock(ctx)
	if err != nil {
		metrics.ScannerCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("get head: %w", err)
	}
	metrics.ChainLatestBlock.WithLabelValues(s.cfg.ChainID.Name()).Set(float64(head))

	c := &cycle{
		wallets:    wallets,
		timestamps: make(map[uint64]time.Time),
	}
	if head > s.cfg.Confirmations {
		c.safeHead = head - s.cfg.Confirmations
	}

	failed := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return nil
		}
		if task.ChainID != s.cfg.ChainID {
			s.log.Debug("Skipping task on other chain", "task", task.ID, "task_chain", task.ChainID)
			continue
		}
		if err := s.scanTask(ctx, task, c); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failed++
			s.log.Warn("Task scan failed", "task", task.ID, "error", err)
		}
	}

	metrics.ScannerCycles.WithLabelValues("ok").Inc()
	s.log.Debug("Scan cycle complete",
		"tasks", len(tasks),
		"wallets", len(wallets),
		"head", head,
		"failed", failed,
	)
	return nil
}

func (s *Scanner) event(sig string) (*evm.Event, error) {
	s.sigMu.Lock()
	defer s.sigMu.Unlock()
	if ev, ok := s.parsed[sig]; ok {
		return ev, nil
	}
	ev, err := evm.ParseEvent(sig)
	if err != nil {
		return nil, err
	}
	s.parsed[sig] = ev
	return ev, nil
}

// topicFor returns the task's topic0 override or the hash of its signature.
func topicFor(task *domain.TaskDefinition, ev *evm.Event) (common.Hash, error) {
	override := strings.TrimSpace(task.Topic0)
	if override == "" {
		return ev.Topic, nil
	}
	b := common.FromHex(override)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid topic0 %q", override)
	}
	return common.BytesToHash(b), nil
}

func (s *Scanner) scanTask(ctx context.Context, task *domain.TaskDefinition, c *cycle) error {
	ev, err := s.event(task.EventSig)
	if err != nil {
		metrics.TaskScanErrors.WithLabelValues(task.ID, "signature").Inc()
		return err
	}
	topic, err := topicFor(task, ev)
	if err != nil {
		metrics.TaskScanErrors.WithLabelValues(task.ID, "signature").Inc()
		return err
	}

	cursor, err := s.cursors.Get(ctx, task.ID)
	if err != nil {
		metrics.TaskScanErrors.WithLabelValues(task.ID, "cursor").Inc()
		return fmt.Errorf("get cursor: %w", err)
	}
	floor := task.ScanFloor(s.cfg.DefaultStartBlock)

	if err := s.coverNewWallets(ctx, task, ev, topic, cursor, floor, c); err != nil {
		return err
	}

	from := cursor.NextBlock(floor)
	if from > c.safeHead {
		return nil
	}
	return s.scanRange(ctx, task, ev, topic, from, c.safeHead, c.wallets, true, c)
}

// coverNewWallets tests wallets verified since the task was last scanned
// against the blocks the cursor has already passed.
func (s *Scanner) coverNewWallets(
	ctx context.Context,
	task *domain.TaskDefinition,
	ev *evm.Event,
	topic common.Hash,
	cursor *domain.TaskCursor,
	floor uint64,
	c *cycle,
) error {
	covered, err := s.cursors.CoveredWallets(ctx, task.ID)
	if err != nil {
		metrics.TaskScanErrors.WithLabelValues(task.ID, "cursor").Inc()
		return fmt.Errorf("get covered wallets: %w", err)
	}

	var fresh []*domain.WalletBinding
	for _, w := range c.wallets {
		if !covered[w.Address] {
			fresh = append(fresh, w)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	// A nil cursor means the forward scan starts at the floor anyway.
	if cursor != nil && floor <= cursor.LastScannedBlock {
		s.log.Info("Rescanning task for newly verified wallets",
			"task", task.ID,
			"wallets", len(fresh),
			"from", floor,
			"to", cursor.LastScannedBlock,
		)
		if err := s.scanRange(ctx, task, ev, topic, floor, cursor.LastScannedBlock, fresh, false, c); err != nil {
			return fmt.Errorf("rescan for new wallets: %w", err)
		}
	}

	addresses := make([]string, len(fresh))
	for i, w := range fresh {
		addresses[i] = w.Address
	}
	if err := s.cursors.MarkCovered(ctx, task.ID, addresses); err != nil {
		metrics.TaskScanErrors.WithLabelValues(task.ID, "cursor").Inc()
		return fmt.Errorf("mark wallets covered: %w", err)
	}
	return nil
}

// scanRange fetches [from, to] in chunks and matches logs against wallets.
// With advance set the task cursor follows each finished chunk.
func (s *Scanner) scanRange(
	ctx context.Context,
	task *domain.TaskDefinition,
	ev *evm.Event,
	topic common.Hash,
	from, to uint64,
	wallets []*domain.WalletBinding,
	advance bool,
	c *cycle,
) error {
	for start := from; start <= to; {
		end := min(start+s.cfg.MaxBlockRange-1, to)

		logs, err := s.chain.FilterLogs(ctx, task.ContractAddress, topic, start, end)
		if err != nil {
			metrics.TaskScanErrors.WithLabelValues(task.ID, "fetch").Inc()
			return fmt.Errorf("fetch logs %d-%d: %w", start, end, err)
		}
		metrics.LogsFetched.WithLabelValues(task.ID).Add(float64(len(logs)))

		if err := s.processLogs(ctx, task, ev, logs, wallets, c); err != nil {
			metrics.TaskScanErrors.WithLabelValues(task.ID, "write").Inc()
			return err
		}

		if advance {
			if err := s.cursors.Advance(ctx, task.ID, end); err != nil {
				metrics.TaskScanErrors.WithLabelValues(task.ID, "cursor").Inc()
				return fmt.Errorf("advance cursor: %w", err)
			}
			metrics.TaskCursorBlock.WithLabelValues(task.ID).Set(float64(end))
		}

		if end == to {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		start = end + 1
	}
	return nil
}

func (s *Scanner) processLogs(
	ctx context.Context,
	task *domain.TaskDefinition,
	ev *evm.Event,
	logs []types.Log,
	wallets []*domain.WalletBinding,
	c *cycle,
) error {
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		decoded, err := ev.Decode(lg)
		if err != nil {
			metrics.LogsSkipped.WithLabelValues(task.ID).Inc()
			s.log.Debug("Skipping undecodable log",
				"task", task.ID,
				"tx", lg.TxHash.Hex(),
				"index", lg.Index,
				"error", err,
			)
			continue
		}

		for _, w := range wallets {
			if !filter.Match(task.ArgFilters, decoded.Args, w.Address) {
				continue
			}
			if err := s.record(ctx, task, w, decoded, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scanner) record(
	ctx context.Context,
	task *domain.TaskDefinition,
	w *domain.WalletBinding,
	decoded *evm.DecodedLog,
	c *cycle,
) error {
	ts, err := s.blockTime(ctx, decoded.BlockNumber, c)
	if err != nil {
		return fmt.Errorf("block %d timestamp: %w", decoded.BlockNumber, err)
	}

	event := &domain.VerifiedTaskEvent{
		TaskID:        task.ID,
		UserID:        w.UserID,
		WalletAddress: w.Address,
		TxHash:        strings.ToLower(decoded.TxHash),
		OccurredAt:    ts,
		Proof: domain.Proof{
			Name:        decoded.Name,
			Args:        decoded.Named,
			BlockNumber: decoded.BlockNumber,
			LogIndex:    decoded.LogIndex,
		},
		Status: domain.TaskEventStatusVerified,
	}

	inserted, err := s.events.InsertIfAbsent(ctx, event)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			metrics.TaskEventsRecorded.WithLabelValues("duplicate").Inc()
			return nil
		}
		return fmt.Errorf("record event: %w", err)
	}
	if !inserted {
		metrics.TaskEventsRecorded.WithLabelValues("duplicate").Inc()
		return nil
	}

	metrics.TaskEventsRecorded.WithLabelValues("inserted").Inc()
	s.log.Info("Task verified",
		"task", task.ID,
		"quest", task.QuestID,
		"user", w.UserID,
		"wallet", w.Address,
		"tx", event.TxHash,
		"block", decoded.BlockNumber,
	)
	return nil
}

func (s *Scanner) blockTime(ctx context.Context, number uint64, c *cycle) (time.Time, error) {
	if ts, ok := c.timestamps[number]; ok {
		return ts, nil
	}
	ts, err := s.chain.BlockTimestamp(ctx, number)
	if err != nil {
		return time.Time{}, err
	}
	c.timestamps[number] = ts
	return ts, nil
}
