// Package indexer scans the recovery module logs of one chain, buffers the
// decoded events in the tracker and periodically flushes them to the store
// together with the alert outbox.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/socialrecovery/recovery-node/recoveryNode/chains/common"
	"github.com/socialrecovery/recovery-node/recoveryNode/config"
	"github.com/socialrecovery/recovery-node/recoveryNode/db"
	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/events"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

// LogSource is the chain access the indexer needs.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// FailedRange is a block range whose log query failed and is retried every cycle.
type FailedRange struct {
	FromBlock  uint64
	ToBlock    uint64
	RetryCount int
}

// Indexer follows one network.
type Indexer struct {
	chainID      uint64
	module       ethcommon.Address
	enabled      bool
	startBlock   *int64
	source       LogSource
	tracker      *events.Tracker
	database     *db.DB
	checkpoints  *common.CheckpointStore
	cfg          config.IndexerConfig
	metrics      *Metrics
	chainLabel   string
	logger       zerolog.Logger
	tickInterval time.Duration
	headRetry    *rerrors.RetryConfig

	mu         sync.Mutex
	checkpoint uint64
	failed     []FailedRange

	flushing atomic.Bool
	scanning atomic.Bool

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates an indexer for n. Zero config fields fall back to 15s, 5000 blocks, 30 requests and 3 retries.
func New(
	n *network.Network,
	source LogSource,
	tracker *events.Tracker,
	database *db.DB,
	cfg config.IndexerConfig,
	metrics *Metrics,
	logger zerolog.Logger,
) *Indexer {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 15
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = 5000
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 30
	}
	if cfg.MaxRangeRetries <= 0 {
		cfg.MaxRangeRetries = 3
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Indexer{
		chainID:      n.ChainID,
		module:       n.RecoveryModule,
		enabled:      n.IndexerEnabled,
		startBlock:   n.IndexerStartBlock,
		source:       source,
		tracker:      tracker,
		database:     database,
		checkpoints:  common.NewCheckpointStore(database, n.ChainID),
		cfg:          cfg,
		metrics:      metrics,
		chainLabel:   strconv.FormatUint(n.ChainID, 10),
		logger:       logger.With().Str("component", "indexer").Uint64("chain_id", n.ChainID).Logger(),
		tickInterval: time.Duration(cfg.IntervalSeconds) * time.Second,
		headRetry:    rerrors.DefaultRetryConfig(),
		stopCh:       make(chan struct{}),
	}
}

// Start loads or creates the checkpoint and, when indexing is enabled, starts the periodic loop.
func (ix *Indexer) Start(ctx context.Context) error {
	if ix.running {
		return fmt.Errorf("indexer is already running")
	}

	if err := ix.initCheckpoint(ctx); err != nil {
		return err
	}
	if !ix.enabled {
		ix.logger.Info().Msg("indexing disabled")
		return nil
	}

	ix.running = true
	ix.stopCh = make(chan struct{})
	ix.wg.Add(1)
	go ix.loop(ctx)

	ix.logger.Info().Uint64("from_block", ix.Checkpoint()+1).Msg("indexer started")
	return nil
}

// Stop ends the loop and waits for in-flight phases to finish.
func (ix *Indexer) Stop() {
	if !ix.running {
		return
	}
	close(ix.stopCh)
	ix.running = false
	ix.wg.Wait()
	ix.logger.Info().Msg("indexer stopped")
}

// Checkpoint returns the in-memory latest indexed block.
func (ix *Indexer) Checkpoint() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.checkpoint
}

// FailedRanges returns a copy of the ranges waiting for retry.
func (ix *Indexer) FailedRanges() []FailedRange {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]FailedRange, len(ix.failed))
	copy(out, ix.failed)
	return out
}

func (ix *Indexer) initCheckpoint(ctx context.Context) error {
	existing, found, err := ix.checkpoints.Load()
	if err != nil {
		return err
	}

	initial := existing.LatestIndexedBlock
	if !found {
		initial, err = ix.initialBlock(ctx)
		if err != nil {
			return err
		}
	}

	checkpoint, err := ix.checkpoints.Init(initial, ix.enabled)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.checkpoint = checkpoint.LatestIndexedBlock
	ix.mu.Unlock()
	return nil
}

// initialBlock is the checkpoint of a chain that was never indexed. The
// configured start block is the first block scanned.
func (ix *Indexer) initialBlock(ctx context.Context) (uint64, error) {
	if ix.startBlock != nil && *ix.startBlock >= 0 {
		if *ix.startBlock == 0 {
			return 0, nil
		}
		return uint64(*ix.startBlock) - 1, nil
	}
	var head uint64
	err := rerrors.RetryWithConfig(ctx, func() error {
		var err error
		head, err = ix.source.BlockNumber(ctx)
		if err != nil {
			return rerrors.NewRPCError(ix.chainLabel, "failed to get chain head", err)
		}
		return nil
	}, ix.headRetry)
	return head, err
}

func (ix *Indexer) loop(ctx context.Context) {
	defer ix.wg.Done()

	ticker := time.NewTicker(ix.tickInterval)
	defer ticker.Stop()

	var phases sync.WaitGroup
	defer phases.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.stopCh:
			return
		case <-ticker.C:
			ix.tick(ctx, &phases)
		}
	}
}

// tick launches whichever phases are idle. The flush snapshot is taken before
// a new scan can move the checkpoint.
func (ix *Indexer) tick(ctx context.Context, phases *sync.WaitGroup) {
	if !ix.scanning.Load() && ix.flushing.CompareAndSwap(false, true) {
		snapshot := ix.snapshot()
		phases.Add(1)
		go func() {
			defer phases.Done()
			defer ix.flushing.Store(false)
			ix.flush(ctx, snapshot)
		}()
	}

	if ix.scanning.CompareAndSwap(false, true) {
		phases.Add(1)
		go func() {
			defer phases.Done()
			defer ix.scanning.Store(false)
			ix.scan(ctx)
		}()
	}
}

type flushSnapshot struct {
	checkpoint uint64
	clean      bool
}

func (ix *Indexer) snapshot() flushSnapshot {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return flushSnapshot{checkpoint: ix.checkpoint, clean: len(ix.failed) == 0}
}

// Flush persists buffered events and the checkpoint once, outside the periodic loop.
func (ix *Indexer) Flush(ctx context.Context) {
	if !ix.flushing.CompareAndSwap(false, true) {
		return
	}
	defer ix.flushing.Store(false)
	ix.flush(ctx, ix.snapshot())
}

// Scan runs one retry and scan cycle outside the periodic loop.
func (ix *Indexer) Scan(ctx context.Context) {
	if !ix.scanning.CompareAndSwap(false, true) {
		return
	}
	defer ix.scanning.Store(false)
	ix.scan(ctx)
}

func (ix *Indexer) flush(ctx context.Context, snap flushSnapshot) {
	persistCheckpoint := snap.clean

	for _, account := range ix.tracker.Accounts(ix.chainID) {
		buffered := ix.tracker.EventsForAccount(account, ix.chainID)
		if len(buffered) == 0 {
			continue
		}
		if err := ix.flushAccount(ctx, account, buffered); err != nil {
			// keep the events buffered for the next cycle
			persistCheckpoint = false
			ix.logger.Error().Err(err).Str("account", account).Msg("failed to flush account events")
			continue
		}
		ix.tracker.RemoveEvents(account, ix.chainID, buffered)
	}

	if !persistCheckpoint {
		return
	}
	if err := ix.checkpoints.UpdateLatestBlock(snap.checkpoint); err != nil {
		ix.logger.Error().Err(err).Msg("failed to persist checkpoint")
		return
	}
	ix.logger.Debug().Uint64("block", snap.checkpoint).Msg("checkpoint persisted")
}

// flushAccount writes the events and one outbox row per subscriber in a single transaction.
func (ix *Indexer) flushAccount(ctx context.Context, account string, buffered []events.Event) error {
	rows := make([]any, 0, len(buffered))
	for _, e := range buffered {
		row, err := eventRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	var notifications []store.AlertNotification
	if subs := ix.tracker.Subscriptions(account); len(subs) > 0 {
		summary, err := ix.tracker.EventSummary(ctx, account, ix.chainID)
		if err != nil {
			return fmt.Errorf("failed to build summary: %w", err)
		}
		if summary != nil {
			message, err := json.Marshal(summary)
			if err != nil {
				return fmt.Errorf("failed to encode summary: %w", err)
			}
			for _, sub := range subs {
				notifications = append(notifications, store.AlertNotification{
					SubscriptionID: sub.ID,
					Account:        account,
					Channel:        sub.Channel,
					Target:         sub.Target,
					Message:        string(message),
					DeliveryStatus: store.DeliveryPending,
				})
			}
		}
	}

	return ix.database.Client().Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
				return fmt.Errorf("failed to store event: %w", err)
			}
		}
		if len(notifications) > 0 {
			if err := tx.Create(&notifications).Error; err != nil {
				return fmt.Errorf("failed to store notifications: %w", err)
			}
		}
		return nil
	})
}

func (ix *Indexer) scan(ctx context.Context) {
	ix.retryFailedRanges(ctx)

	head, err := ix.source.BlockNumber(ctx)
	if err != nil {
		ix.logger.Error().Err(err).Msg("failed to get chain head")
		return
	}

	from := ix.Checkpoint() + 1
	if from > head {
		return
	}

	windows := splitRange(from, head, ix.cfg.WindowSize)
	var g errgroup.Group
	g.SetLimit(ix.cfg.MaxConcurrency)
	for _, w := range windows {
		g.Go(func() error {
			if err := ix.processRange(ctx, w.FromBlock, w.ToBlock); err != nil {
				ix.logger.Warn().Err(err).
					Uint64("from_block", w.FromBlock).
					Uint64("to_block", w.ToBlock).
					Msg("block range failed, scheduling retry")
				ix.addFailedRange(w.FromBlock, w.ToBlock)
			}
			return nil
		})
	}
	_ = g.Wait()

	// every window either succeeded or is tracked as a failed range
	ix.mu.Lock()
	if head > ix.checkpoint {
		ix.checkpoint = head
	}
	ix.mu.Unlock()
}

func (ix *Indexer) retryFailedRanges(ctx context.Context) {
	ix.mu.Lock()
	pending := make([]FailedRange, len(ix.failed))
	copy(pending, ix.failed)
	ix.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	succeeded := make([]bool, len(pending))
	var g errgroup.Group
	g.SetLimit(ix.cfg.MaxConcurrency)
	for i, r := range pending {
		g.Go(func() error {
			if err := ix.processRange(ctx, r.FromBlock, r.ToBlock); err != nil {
				ix.logger.Debug().Err(err).Uint64("from_block", r.FromBlock).Uint64("to_block", r.ToBlock).Msg("retry failed")
				return nil
			}
			succeeded[i] = true
			return nil
		})
	}
	_ = g.Wait()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	kept := ix.failed[:0]
	for _, r := range ix.failed {
		idx := indexOfRange(pending, r)
		if idx >= 0 && succeeded[idx] {
			continue
		}
		if idx >= 0 {
			r.RetryCount++
			if r.RetryCount > ix.cfg.MaxRangeRetries {
				ix.logger.Error().
					Uint64("from_block", r.FromBlock).
					Uint64("to_block", r.ToBlock).
					Int("retries", r.RetryCount).
					Msg("block range keeps failing")
			}
		}
		kept = append(kept, r)
	}
	ix.failed = kept
	ix.metrics.failedRanges.WithLabelValues(ix.chainLabel).Set(float64(len(ix.failed)))
}

func indexOfRange(ranges []FailedRange, r FailedRange) int {
	for i, c := range ranges {
		if c.FromBlock == r.FromBlock && c.ToBlock == r.ToBlock {
			return i
		}
	}
	return -1
}

func (ix *Indexer) addFailedRange(from, to uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.failed = append(ix.failed, FailedRange{FromBlock: from, ToBlock: to})
	ix.metrics.failedRanges.WithLabelValues(ix.chainLabel).Set(float64(len(ix.failed)))
}

// processRange fetches, decodes and buffers the module logs of [from, to].
func (ix *Indexer) processRange(ctx context.Context, from, to uint64) error {
	logs, err := ix.source.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []ethcommon.Address{ix.module},
		Topics:    [][]ethcommon.Hash{eventTopics},
	})
	if err != nil {
		return fmt.Errorf("failed to get logs: %w", err)
	}

	for _, log := range logs {
		e, ok, err := DecodeLog(ix.chainID, log)
		if err != nil {
			ix.logger.Warn().Err(err).Str("tx_hash", log.TxHash.Hex()).Uint("log_index", log.Index).Msg("skipping undecodable log")
			continue
		}
		if !ok {
			continue
		}
		ix.tracker.AddEvent(e)
		ix.metrics.decodedEvents.WithLabelValues(ix.chainLabel, string(e.Kind())).Inc()
	}

	if len(logs) > 0 {
		ix.logger.Info().Uint64("from_block", from).Uint64("to_block", to).Int("logs", len(logs)).Msg("found module events")
	}
	ix.metrics.scannedBlocks.WithLabelValues(ix.chainLabel).Add(float64(to - from + 1))
	return nil
}

type blockWindow struct {
	FromBlock uint64
	ToBlock   uint64
}

// splitRange cuts [from, to] into consecutive windows of at most size blocks.
func splitRange(from, to, size uint64) []blockWindow {
	var windows []blockWindow
	for start := from; start <= to; {
		end := start + size - 1
		if end > to || end < start {
			end = to
		}
		windows = append(windows, blockWindow{FromBlock: start, ToBlock: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return windows
}
