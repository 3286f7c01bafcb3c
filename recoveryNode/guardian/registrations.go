package guardian

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

// Registration is the owner-facing view of an AuthRegistration.
type Registration struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Target  string `json:"target"`
}

// CreateRegistration starts proving control of target on behalf of account.
// The owner signs "chainId:channel:target:timestamp". It returns the challenge id.
func (s *Service) CreateRegistration(
	ctx context.Context,
	account string,
	chainID uint64,
	channelName string,
	target string,
	timestampMs int64,
	signature string,
) (string, error) {
	n, err := s.guardianNetwork(chainID)
	if err != nil {
		return "", err
	}
	account, err = normalizeAccount(n, account)
	if err != nil {
		return "", err
	}
	ch, err := s.channel(n, channelName)
	if err != nil {
		return "", err
	}
	sanitized, ok := ch.SanitizeTarget(target)
	if !ok {
		return "", rerrors.NewForbiddenError(n.Name, fmt.Sprintf("Target '%s' is not compatible with '%s' channel", target, channelName))
	}

	message := fmt.Sprintf("%d:%s:%s:%d", chainID, channelName, target, timestampMs)
	if err := s.authorize(ctx, n, account, message, timestampMs, signature); err != nil {
		return "", err
	}

	var existing int64
	err = s.database.Client().Model(&store.AuthRegistration{}).
		Where("account = ? AND chain_id = ? AND channel = ? AND target = ?", account, chainID, channelName, sanitized).
		Count(&existing).Error
	if err != nil {
		return "", rerrors.NewDatabaseError(n.Name, "failed to check registrations", err)
	}
	if existing > 0 {
		return "", rerrors.NewConflictError(n.Name, "Registration already exists for this target")
	}

	plain, hash, err := ch.GenerateChallenge(account)
	if err != nil {
		return "", rerrors.NewInternalError(n.Name, "failed to generate challenge", err)
	}
	if err := s.sendOTP(ctx, ch, sanitized, plain); err != nil {
		return "", rerrors.NewNetworkError(n.Name, "failed to send challenge", err)
	}

	req := &store.AuthRegistrationRequest{
		Account:       account,
		ChainID:       chainID,
		Channel:       channelName,
		Target:        sanitized,
		ChallengeHash: hash,
		ExpiresAt:     s.now().Add(constant.ChallengeTTL),
	}
	if err := s.database.Client().Create(req).Error; err != nil {
		return "", rerrors.NewDatabaseError(n.Name, "failed to store registration request", err)
	}

	s.logger.Info().Str("challenge_id", req.ID).Str("channel", channelName).Uint64("chain_id", chainID).Msg("registration challenge issued")
	return req.ID, nil
}

// SubmitRegistrationChallenge completes a registration and returns its id
// together with the guardian address the owner should add on-chain.
func (s *Service) SubmitRegistrationChallenge(ctx context.Context, challengeID, challenge string) (string, string, error) {
	var req store.AuthRegistrationRequest
	if err := s.database.Client().First(&req, "id = ?", challengeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", rerrors.NewNotFoundError("challengeId not found")
		}
		return "", "", rerrors.NewDatabaseError("", "failed to load registration request", err)
	}

	n, err := s.guardianNetwork(req.ChainID)
	if err != nil {
		return "", "", err
	}
	if req.Verified {
		return "", "", rerrors.NewConflictError(n.Name, "challengeId has already been verified")
	}
	if s.now().After(req.ExpiresAt) {
		return "", "", rerrors.NewForbiddenError(n.Name, "challengeId has been expired")
	}
	ch, err := s.channel(n, req.Channel)
	if err != nil {
		return "", "", err
	}
	if err := s.claimAttempt(&store.AuthRegistrationRequest{}, req.ID, n.Name); err != nil {
		return "", "", err
	}
	if !ch.VerifyChallenge(challenge, req.ChallengeHash, req.Account) {
		return "", "", rerrors.NewForbiddenError(n.Name, "Invalid challenge")
	}

	_, guardianAddr, err := s.guardianSigner(ctx, n)
	if err != nil {
		return "", "", err
	}

	verifiedAt := s.now()
	registration := &store.AuthRegistration{
		Account:  req.Account,
		ChainID:  req.ChainID,
		Channel:  req.Channel,
		Target:   req.Target,
		Guardian: strings.ToLower(guardianAddr.Hex()),
	}
	err = s.database.Client().Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&store.AuthRegistrationRequest{}).
			Where("id = ? AND verified = ?", req.ID, false).
			Updates(map[string]any{"verified": true, "verified_at": verifiedAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return rerrors.NewConflictError(n.Name, "challengeId has already been verified")
		}
		return tx.Create(registration).Error
	})
	if err != nil {
		return "", "", rerrors.WrapChainError(err, rerrors.ErrCodeDatabase, n.Name, "failed to store registration")
	}

	s.logger.Info().Str("registration_id", registration.ID).Uint64("chain_id", req.ChainID).Msg("registration verified")
	return registration.ID, registration.Guardian, nil
}

// FetchRegistrations lists the registrations of account. The owner signs "chainId:timestamp".
func (s *Service) FetchRegistrations(ctx context.Context, account string, chainID uint64, timestampMs int64, signature string) ([]Registration, error) {
	n, err := s.guardianNetwork(chainID)
	if err != nil {
		return nil, err
	}
	account, err = normalizeAccount(n, account)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, n, account, fmt.Sprintf("%d:%d", chainID, timestampMs), timestampMs, signature); err != nil {
		return nil, err
	}

	var rows []store.AuthRegistration
	if err := s.database.Client().
		Where("account = ? AND chain_id = ?", account, chainID).
		Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, rerrors.NewDatabaseError(n.Name, "failed to load registrations", err)
	}
	out := make([]Registration, 0, len(rows))
	for _, row := range rows {
		out = append(out, Registration{ID: row.ID, Channel: row.Channel, Target: row.Target})
	}
	return out, nil
}

// DeleteRegistration removes one registration. The owner signs "id:timestamp".
func (s *Service) DeleteRegistration(ctx context.Context, id string, timestampMs int64, signature string) error {
	var row store.AuthRegistration
	if err := s.database.Client().First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rerrors.NewNotFoundError("Registration not found")
		}
		return rerrors.NewDatabaseError("", "failed to load registration", err)
	}
	n, err := s.guardianNetwork(row.ChainID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, n, row.Account, fmt.Sprintf("%s:%d", id, timestampMs), timestampMs, signature); err != nil {
		return err
	}
	if err := s.database.Client().Delete(&store.AuthRegistration{}, "id = ?", id).Error; err != nil {
		return rerrors.NewDatabaseError(n.Name, "failed to delete registration", err)
	}
	s.logger.Info().Str("registration_id", id).Msg("registration deleted")
	return nil
}
