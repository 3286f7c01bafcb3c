// Package subscriptions manages owner opt-ins to indexer security alerts.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/socialrecovery/recovery-node/recoveryNode/alerts"
	"github.com/socialrecovery/recovery-node/recoveryNode/chains/evm"
	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
	"github.com/socialrecovery/recovery-node/recoveryNode/db"
	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

const otpSubject = "OTP Verification for Safe Recovery Module Alerts"

// SubscriptionRegistry receives subscription changes so the indexer can route summaries.
type SubscriptionRegistry interface {
	AddSubscription(account, subscriptionID, channel, target string)
	RemoveSubscription(account, subscriptionID string)
}

// Subscription is the owner-facing view of an active subscription.
type Subscription struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Target  string `json:"target"`
}

// Authorization is a signed sign-in message proving control of an account.
type Authorization struct {
	ChainID   uint64
	Message   string
	Signature string
}

// Service implements the alert subscription lifecycle.
type Service struct {
	database   *db.DB
	networks   *network.Registry
	channels   *alerts.Registry
	alertGroup string
	registry   SubscriptionRegistry
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService creates a subscription service that resolves channels in alertGroup.
func NewService(
	database *db.DB,
	networks *network.Registry,
	channels *alerts.Registry,
	alertGroup string,
	registry SubscriptionRegistry,
	logger zerolog.Logger,
) *Service {
	return &Service{
		database:   database,
		networks:   networks,
		channels:   channels,
		alertGroup: alertGroup,
		registry:   registry,
		logger:     logger.With().Str("component", "subscriptions").Logger(),
		now:        time.Now,
	}
}

// CreateSubscription sends a challenge to target and stores an inactive
// subscription. It returns the subscription id to activate.
func (s *Service) CreateSubscription(ctx context.Context, account, channelName, target string, auth Authorization) (string, error) {
	ch, ok := s.channels.Channel(s.alertGroup, channelName)
	if !ok {
		return "", rerrors.NewValidationError("", fmt.Sprintf("Target channel '%s' is not supported for alerts", channelName))
	}
	sanitized, ok := ch.SanitizeTarget(target)
	if !ok {
		return "", rerrors.NewForbiddenError("", fmt.Sprintf("Target '%s' is not compatible with '%s' channel", target, channelName))
	}

	statement := strings.NewReplacer("{{target}}", target, "{{channel}}", channelName).Replace(constant.StatementAlertsSubscribe)
	if err := s.validateSignIn(ctx, account, statement, auth); err != nil {
		return "", err
	}
	account = strings.ToLower(account)

	var existing int64
	err := s.database.Client().Model(&store.AlertSubscription{}).
		Where("account = ? AND channel = ? AND target = ? AND active = ?", account, channelName, sanitized, true).
		Count(&existing).Error
	if err != nil {
		return "", rerrors.NewDatabaseError("", "failed to check subscriptions", err)
	}
	if existing > 0 {
		return "", rerrors.NewConflictError("", fmt.Sprintf("An active subscription already exists for %s using %s as %s", account, sanitized, channelName))
	}

	plain, hash, err := ch.GenerateChallenge(account)
	if err != nil {
		return "", rerrors.NewInternalError("", "failed to generate challenge", err)
	}
	err = ch.SendMessage(ctx, constant.TemplateOTPVerification, sanitized, map[string]string{
		"subject": otpSubject,
		"otp":     plain,
	})
	if err != nil {
		return "", rerrors.NewNetworkError("", "failed to send challenge", err)
	}

	sub := &store.AlertSubscription{
		Account:       account,
		Channel:       channelName,
		Target:        sanitized,
		ChallengeHash: hash,
		ExpiresAt:     s.now().Add(constant.ChallengeTTL),
	}
	if err := s.database.Client().Create(sub).Error; err != nil {
		return "", rerrors.NewDatabaseError("", "failed to store subscription", err)
	}
	s.logger.Info().Str("subscription_id", sub.ID).Str("channel", channelName).Msg("subscription challenge issued")
	return sub.ID, nil
}

// ActivateSubscription verifies the challenge sent by CreateSubscription and
// starts routing alerts to the subscription.
func (s *Service) ActivateSubscription(ctx context.Context, id, challenge string) error {
	sub, err := s.load(id, "Alert subscription not found")
	if err != nil {
		return err
	}
	if sub.Active {
		return rerrors.NewValidationError("", "Alert subscription already active")
	}
	ch, ok := s.channels.Channel(s.alertGroup, sub.Channel)
	if !ok {
		return rerrors.NewInternalError("", fmt.Sprintf("Channel '%s' no longer exists, please contact support", sub.Channel), nil)
	}
	now := s.now()
	if now.After(sub.ExpiresAt) {
		return rerrors.NewForbiddenError("", "Alert subscription request's challenge has been expired")
	}
	attempt := s.database.Client().Model(&store.AlertSubscription{}).
		Where("id = ? AND tries < ?", sub.ID, constant.ChallengeMaxTries).
		Update("tries", gorm.Expr("tries + 1"))
	if attempt.Error != nil {
		return rerrors.NewDatabaseError("", "failed to count challenge attempt", attempt.Error)
	}
	if attempt.RowsAffected == 0 {
		return rerrors.NewRateLimitError("", "Too many invalid attempts, request a new challenge")
	}
	if !ch.VerifyChallenge(challenge, sub.ChallengeHash, sub.Account) {
		return rerrors.NewForbiddenError("", "Invalid challenge")
	}

	res := s.database.Client().Model(&store.AlertSubscription{}).
		Where("id = ? AND active = ?", sub.ID, false).
		Updates(map[string]any{"active": true, "verified": true, "verified_at": now})
	if res.Error != nil {
		return rerrors.NewDatabaseError("", "failed to activate subscription", res.Error)
	}
	if res.RowsAffected == 0 {
		return rerrors.NewValidationError("", "Alert subscription already active")
	}
	s.registry.AddSubscription(sub.Account, sub.ID, sub.Channel, sub.Target)
	s.logger.Info().Str("subscription_id", sub.ID).Msg("subscription activated")
	return nil
}

// FetchSubscriptions lists the active subscriptions of account.
func (s *Service) FetchSubscriptions(ctx context.Context, account string, auth Authorization) ([]Subscription, error) {
	if err := s.validateSignIn(ctx, account, constant.StatementAlertsFetch, auth); err != nil {
		return nil, err
	}
	var rows []store.AlertSubscription
	if err := s.database.Client().
		Where("account = ? AND active = ?", strings.ToLower(account), true).
		Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, rerrors.NewDatabaseError("", "failed to load subscriptions", err)
	}
	out := make([]Subscription, 0, len(rows))
	for _, row := range rows {
		out = append(out, Subscription{ID: row.ID, Channel: row.Channel, Target: row.Target})
	}
	return out, nil
}

// Unsubscribe deletes a subscription. When auth is given it must be signed by
// the subscribed account over the unsubscribe statement.
func (s *Service) Unsubscribe(ctx context.Context, id string, auth *Authorization) error {
	sub, err := s.load(id, "Could not find an alert subscription with this id")
	if err != nil {
		return err
	}
	if auth != nil {
		if err := s.validateSignIn(ctx, sub.Account, constant.StatementAlertsUnsubscribe, *auth); err != nil {
			return err
		}
	}
	if err := s.database.Client().Delete(&store.AlertSubscription{}, "id = ?", sub.ID).Error; err != nil {
		return rerrors.NewDatabaseError("", "failed to delete subscription", err)
	}
	s.registry.RemoveSubscription(sub.Account, sub.ID)
	s.logger.Info().Str("subscription_id", sub.ID).Msg("subscription removed")
	return nil
}

func (s *Service) load(id, notFound string) (*store.AlertSubscription, error) {
	var sub store.AlertSubscription
	if err := s.database.Client().First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rerrors.NewNotFoundError(notFound)
		}
		return nil, rerrors.NewDatabaseError("", "failed to load subscription", err)
	}
	return &sub, nil
}

// validateSignIn checks an EIP-4361 message issued for account on auth.ChainID
// carrying statement, and its signature by account.
func (s *Service) validateSignIn(ctx context.Context, account, statement string, auth Authorization) error {
	if !ethcommon.IsHexAddress(account) {
		return rerrors.NewValidationError("", "Invalid account address")
	}
	n, ok := s.networks.Get(auth.ChainID)
	if !ok || n.Contracts == nil {
		return rerrors.NewValidationError("", "Unsupported chain")
	}

	msg, err := evm.ParseSIWEMessage(auth.Message)
	if err != nil {
		return rerrors.NewValidationError(n.Name, fmt.Sprintf("message must be a valid SIWE (EIP-4361) message: %v", err))
	}
	accountAddr := ethcommon.HexToAddress(account)
	if msg.Address != accountAddr {
		return rerrors.NewForbiddenError(n.Name, "Message address does not match account")
	}
	if msg.ChainID != auth.ChainID {
		return rerrors.NewForbiddenError(n.Name, "Message chain id does not match chainId")
	}
	if msg.Statement != statement {
		return rerrors.NewForbiddenError(n.Name, "Message statement is invalid")
	}
	now := s.now()
	drift := now.Sub(msg.IssuedAt)
	if drift < 0 {
		drift = -drift
	}
	if drift > constant.AuthorizationWindow || !msg.ValidAt(now) {
		return rerrors.NewForbiddenError(n.Name, "Message expired, it should be issued within 5 minutes of sending the request")
	}

	sig, err := hexutil.Decode(auth.Signature)
	if err != nil {
		return rerrors.NewForbiddenError(n.Name, "Invalid signature")
	}
	valid, err := n.Contracts.IsValidMessageSignature(ctx, accountAddr, auth.Message, sig)
	if err != nil {
		return rerrors.NewRPCError(n.Name, "failed to verify signature", err)
	}
	if !valid {
		return rerrors.NewForbiddenError(n.Name, "Invalid signature")
	}
	return nil
}
