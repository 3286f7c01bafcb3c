// Package guardian lets the node act as an automated guardian. Owners register
// channel targets and the node signs a recovery once enough of those targets
// have answered a one-time challenge.
package guardian

import (
	"context"
	"fmt"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/socialrecovery/recovery-node/recoveryNode/alerts"
	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
	"github.com/socialrecovery/recovery-node/recoveryNode/db"
	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/signer"
)

const otpSubject = "OTP Verification for Safe Recovery"

// SignerSource resolves signers by id.
type SignerSource interface {
	Get(id string) (signer.Signer, bool)
}

// Service implements guardian registrations and the auto-signer.
type Service struct {
	database *db.DB
	networks *network.Registry
	channels *alerts.Registry
	signers  SignerSource
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a guardian service.
func NewService(
	database *db.DB,
	networks *network.Registry,
	channels *alerts.Registry,
	signers SignerSource,
	logger zerolog.Logger,
) *Service {
	return &Service{
		database: database,
		networks: networks,
		channels: channels,
		signers:  signers,
		logger:   logger.With().Str("component", "guardian").Logger(),
		now:      time.Now,
	}
}

// guardianNetwork returns the network for chainID when the node is a guardian there.
func (s *Service) guardianNetwork(chainID uint64) (*network.Network, error) {
	n, ok := s.networks.Get(chainID)
	if !ok || n.Contracts == nil {
		return nil, rerrors.NewValidationError("", "Unsupported chain")
	}
	if !n.GuardianEnabled() || n.AlertGroup == "" {
		return nil, rerrors.NewValidationError(n.Name, "Recovery Guardian is not enabled on this network")
	}
	return n, nil
}

func (s *Service) channel(n *network.Network, name string) (alerts.Channel, error) {
	ch, ok := s.channels.Channel(n.AlertGroup, name)
	if !ok {
		return nil, rerrors.NewValidationError(n.Name, fmt.Sprintf("Target channel '%s' is not supported on this network", name))
	}
	return ch, nil
}

func (s *Service) guardianSigner(ctx context.Context, n *network.Network) (signer.Signer, ethcommon.Address, error) {
	sg, ok := s.signers.Get(n.GuardianSignerID)
	if !ok {
		return nil, ethcommon.Address{}, rerrors.NewConfigError(n.Name, fmt.Sprintf("guardian signer %q is not configured", n.GuardianSignerID))
	}
	addr, err := sg.Address(ctx)
	if err != nil {
		return nil, ethcommon.Address{}, rerrors.NewInternalError(n.Name, "failed to resolve guardian address", err)
	}
	return sg, addr, nil
}

// requireGuardian fails unless the node's signer guards account on n.
func (s *Service) requireGuardian(ctx context.Context, n *network.Network, account ethcommon.Address) (signer.Signer, ethcommon.Address, error) {
	sg, addr, err := s.guardianSigner(ctx, n)
	if err != nil {
		return nil, ethcommon.Address{}, err
	}
	ok, err := n.Contracts.IsGuardian(ctx, account, addr)
	if err != nil {
		return nil, ethcommon.Address{}, rerrors.NewRPCError(n.Name, "failed to check guardian", err)
	}
	if !ok {
		return nil, ethcommon.Address{}, rerrors.NewValidationError(n.Name,
			fmt.Sprintf("This account has not set '%s' as a guardian", addr.Hex()))
	}
	return sg, addr, nil
}

// authorize checks that account signed message at timestampMs, a unix time in milliseconds.
func (s *Service) authorize(ctx context.Context, n *network.Network, account, message string, timestampMs int64, signature string) error {
	drift := s.now().Sub(time.UnixMilli(timestampMs))
	if drift < 0 {
		drift = -drift
	}
	if drift > constant.AuthorizationWindow {
		return rerrors.NewForbiddenError(n.Name, "Timestamp expired, signature timestamp should be within 5 minutes of sending the request")
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return rerrors.NewForbiddenError(n.Name, "Invalid signature")
	}
	valid, err := n.Contracts.IsValidMessageSignature(ctx, ethcommon.HexToAddress(account), message, sig)
	if err != nil {
		return rerrors.NewRPCError(n.Name, "failed to verify signature", err)
	}
	if !valid {
		return rerrors.NewForbiddenError(n.Name, "Invalid signature")
	}
	return nil
}

func (s *Service) sendOTP(ctx context.Context, ch alerts.Channel, target, plain string) error {
	return ch.SendMessage(ctx, constant.TemplateOTPVerification, target, map[string]string{
		"subject": otpSubject,
		"otp":     plain,
	})
}

func normalizeAccount(n *network.Network, account string) (string, error) {
	if !ethcommon.IsHexAddress(account) {
		return "", rerrors.NewValidationError(n.Name, "Invalid account address")
	}
	return strings.ToLower(account), nil
}

// claimAttempt spends one attempt of challenge row id, refusing once none are left.
func (s *Service) claimAttempt(model any, id, chain string) error {
	res := s.database.Client().Model(model).
		Where("id = ? AND tries < ?", id, constant.ChallengeMaxTries).
		Update("tries", gorm.Expr("tries + 1"))
	if res.Error != nil {
		return rerrors.NewDatabaseError(chain, "failed to count challenge attempt", res.Error)
	}
	if res.RowsAffected == 0 {
		return rerrors.NewRateLimitError(chain, "Too many invalid attempts, request a new challenge")
	}
	return nil
}
