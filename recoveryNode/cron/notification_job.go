// Package cron hosts the node's periodic background jobs.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/socialrecovery/recovery-node/recoveryNode/alerts"
	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
	"github.com/socialrecovery/recovery-node/recoveryNode/db"
	"github.com/socialrecovery/recovery-node/recoveryNode/events"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

// NotificationJob delivers pending alert notifications written by the indexers.
type NotificationJob struct {
	database       *db.DB
	channels       *alerts.Registry
	alertGroup     string
	limiter        *rate.Limiter
	interval       time.Duration
	perSendTimeout time.Duration
	logger         zerolog.Logger

	busy atomic.Bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	forceCh chan struct{}
	wg      sync.WaitGroup
}

// NewNotificationJob creates the delivery job. Sends are limited to
// ratePerSecond with the given burst.
func NewNotificationJob(
	database *db.DB,
	channels *alerts.Registry,
	alertGroup string,
	interval time.Duration,
	ratePerSecond float64,
	burst int,
	logger zerolog.Logger,
) *NotificationJob {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &NotificationJob{
		database:       database,
		channels:       channels,
		alertGroup:     alertGroup,
		limiter:        rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		interval:       interval,
		perSendTimeout: 30 * time.Second,
		logger:         logger.With().Str("component", "notification_cron").Logger(),
	}
}

// Start launches the background loop and returns immediately.
// Safe to call multiple times; subsequent calls are no-ops.
func (j *NotificationJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	if j.database == nil || j.channels == nil {
		return errors.New("cron: database and channels must be non-nil")
	}

	j.stopCh = make(chan struct{})
	j.forceCh = make(chan struct{}, 1)
	j.running = true
	j.wg.Add(1)

	go j.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it to finish.
// Safe to call multiple times.
func (j *NotificationJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopCh)
	j.running = false
	j.mu.Unlock()
	j.wg.Wait()
}

// Trigger requests a delivery pass without waiting for the next tick.
func (j *NotificationJob) Trigger() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	select {
	case j.forceCh <- struct{}{}:
	default:
	}
}

func (j *NotificationJob) run(parent context.Context) {
	defer j.wg.Done()

	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-parent.Done():
			j.logger.Info().Msg("notification cron: context canceled; stopping")
			return
		case <-j.stopCh:
			j.logger.Info().Msg("notification cron: stop requested; stopping")
			return
		case <-t.C:
			j.tick(parent)
		case <-j.forceCh:
			j.tick(parent)
		}
	}
}

func (j *NotificationJob) tick(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Warn().Err(err).Msg("notification delivery pass failed")
	}
}

// RunOnce delivers every pending notification and returns how many were sent.
// It returns immediately with zero when another pass is in progress.
func (j *NotificationJob) RunOnce(ctx context.Context) (int, error) {
	if !j.busy.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer j.busy.Store(false)

	var pending []store.AlertNotification
	if err := j.database.Client().
		Where("delivery_status = ?", store.DeliveryPending).
		Order("created_at ASC").Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("failed to load pending notifications: %w", err)
	}

	sent := 0
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if j.deliver(ctx, &pending[i]) {
			sent++
		}
	}
	if len(pending) > 0 {
		j.logger.Info().Int("pending", len(pending)).Int("sent", sent).Msg("notification delivery pass complete")
	}
	return sent, nil
}

func (j *NotificationJob) deliver(ctx context.Context, n *store.AlertNotification) bool {
	log := j.logger.With().Str("notification_id", n.ID).Str("channel", n.Channel).Logger()

	ch, ok := j.channels.Channel(j.alertGroup, n.Channel)
	if !ok {
		j.fail(n.ID, fmt.Sprintf("Alert channel %s not found on %s", n.Channel, j.alertGroup))
		log.Warn().Msg("notification channel missing")
		return false
	}

	var summary events.Summary
	if err := json.Unmarshal([]byte(n.Message), &summary); err != nil {
		j.fail(n.ID, fmt.Sprintf("invalid message: %v", err))
		log.Error().Err(err).Msg("failed to decode notification")
		return false
	}

	if err := j.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("notification send interrupted")
		return false
	}
	if err := j.setStatus(n.ID, store.DeliverySending, ""); err != nil {
		log.Error().Err(err).Msg("failed to mark notification sending")
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, j.perSendTimeout)
	defer cancel()
	if err := ch.SendMessage(sendCtx, constant.TemplateNotification, n.Target, summary.TemplateVars()); err != nil {
		j.fail(n.ID, err.Error())
		log.Error().Err(err).Msg("failed to send notification")
		return false
	}

	if err := j.setStatus(n.ID, store.DeliverySent, ""); err != nil {
		log.Error().Err(err).Msg("failed to mark notification sent")
	}
	return true
}

func (j *NotificationJob) fail(id, reason string) {
	if err := j.setStatus(id, store.DeliveryFailed, reason); err != nil {
		j.logger.Error().Err(err).Str("notification_id", id).Msg("failed to mark notification failed")
	}
}

func (j *NotificationJob) setStatus(id, status, reason string) error {
	updates := map[string]any{"delivery_status": status}
	if reason != "" {
		updates["failed_reason"] = reason
	}
	return j.database.Client().Model(&store.AlertNotification{}).Where("id = ?", id).Updates(updates).Error
}
