package guardian

import (
	"context"
	"errors"
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gorm.io/gorm"

	"github.com/socialrecovery/recovery-node/recoveryNode/alerts"
	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/signer"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

// ChallengeAuth tells the caller where one challenge was sent.
type ChallengeAuth struct {
	ChallengeID  string `json:"challengeId"`
	Channel      string `json:"channel"`
	MaskedTarget string `json:"target"`
}

// SignatureRequestResult describes a newly opened signature request.
type SignatureRequestResult struct {
	RequestID             string          `json:"requestId"`
	RequiredVerifications int             `json:"requiredVerifications"`
	Auths                 []ChallengeAuth `json:"auths"`
}

// SignatureResult is returned for every accepted challenge. Signer and
// Signature are set once enough challenges have been verified.
type SignatureResult struct {
	Success   bool   `json:"success"`
	Signer    string `json:"signer,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func resultFor(req *store.SignatureRequest) *SignatureResult {
	return &SignatureResult{Success: true, Signer: req.Guardian, Signature: req.Signature}
}

// RequestSignature opens a signature request for a recovery of account and
// sends a challenge to every registered target. A majority of them must be
// answered before the node signs.
func (s *Service) RequestSignature(
	ctx context.Context,
	account string,
	newOwners []string,
	newThreshold uint64,
	chainID uint64,
) (*SignatureRequestResult, error) {
	n, err := s.guardianNetwork(chainID)
	if err != nil {
		return nil, err
	}
	account, err = normalizeAccount(n, account)
	if err != nil {
		return nil, err
	}
	owners := make([]string, len(newOwners))
	for i, owner := range newOwners {
		if !ethcommon.IsHexAddress(owner) {
			return nil, rerrors.NewValidationError(n.Name, "Invalid owner address")
		}
		owners[i] = strings.ToLower(owner)
	}
	accountAddr := ethcommon.HexToAddress(account)
	if _, _, err := s.requireGuardian(ctx, n, accountAddr); err != nil {
		return nil, err
	}

	var registrations []store.AuthRegistration
	if err := s.database.Client().
		Where("account = ? AND chain_id = ?", account, chainID).
		Order("created_at ASC").Find(&registrations).Error; err != nil {
		return nil, rerrors.NewDatabaseError(n.Name, "failed to load registrations", err)
	}
	if len(registrations) == 0 {
		return nil, rerrors.NewValidationError(n.Name, "No registrations found for this account on this chainId")
	}

	channels := make([]alerts.Channel, len(registrations))
	for i, reg := range registrations {
		if channels[i], err = s.channel(n, reg.Channel); err != nil {
			return nil, err
		}
	}

	nonce, err := n.Contracts.RecoveryNonce(ctx, accountAddr)
	if err != nil {
		return nil, rerrors.NewRPCError(n.Name, "failed to read recovery nonce", err)
	}

	req := &store.SignatureRequest{
		Account:               account,
		ChainID:               chainID,
		NewOwners:             owners,
		NewThreshold:          newThreshold,
		Nonce:                 store.NewBigUint(nonce),
		RequiredVerifications: len(registrations)/2 + 1,
	}
	verifications := make([]*store.ChallengeVerification, len(registrations))
	plains := make([]string, len(registrations))
	expiresAt := s.now().Add(constant.ChallengeTTL)
	for i, reg := range registrations {
		plain, hash, err := channels[i].GenerateChallenge(account)
		if err != nil {
			return nil, rerrors.NewInternalError(n.Name, "failed to generate challenge", err)
		}
		plains[i] = plain
		verifications[i] = &store.ChallengeVerification{
			Channel:       reg.Channel,
			Target:        reg.Target,
			ChallengeHash: hash,
			ExpiresAt:     expiresAt,
		}
	}

	err = s.database.Client().Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		for _, v := range verifications {
			v.SignatureRequestID = req.ID
			if err := tx.Create(v).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, rerrors.NewDatabaseError(n.Name, "failed to store signature request", err)
	}

	result := &SignatureRequestResult{
		RequestID:             req.ID,
		RequiredVerifications: req.RequiredVerifications,
		Auths:                 make([]ChallengeAuth, 0, len(verifications)),
	}
	for i, v := range verifications {
		if err := s.sendOTP(ctx, channels[i], v.Target, plains[i]); err != nil {
			s.logger.Warn().Err(err).Str("request_id", req.ID).Str("channel", v.Channel).Msg("failed to send challenge")
		}
		result.Auths = append(result.Auths, ChallengeAuth{
			ChallengeID:  v.ID,
			Channel:      v.Channel,
			MaskedTarget: channels[i].MaskTarget(v.Target),
		})
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Int("challenges", len(verifications)).
		Int("required", req.RequiredVerifications).
		Uint64("chain_id", chainID).
		Msg("signature request opened")
	return result, nil
}

// SubmitSignatureRequestChallenge verifies one challenge of a signature
// request. The guardian signature is produced at most once, by the submission
// that brings the verified count up to the requirement.
func (s *Service) SubmitSignatureRequestChallenge(ctx context.Context, requestID, challengeID, challenge string) (*SignatureResult, error) {
	req, err := s.loadSignatureRequest(requestID)
	if err != nil {
		return nil, err
	}
	n, err := s.guardianNetwork(req.ChainID)
	if err != nil {
		return nil, err
	}
	sg, guardianAddr, err := s.requireGuardian(ctx, n, ethcommon.HexToAddress(req.Account))
	if err != nil {
		return nil, err
	}

	var verification store.ChallengeVerification
	if err := s.database.Client().
		First(&verification, "id = ? AND signature_request_id = ?", challengeID, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rerrors.NewNotFoundError("challengeId not found for this requestId")
		}
		return nil, rerrors.NewDatabaseError(n.Name, "failed to load challenge", err)
	}
	if verification.Verified {
		return resultFor(req), nil
	}
	if s.now().After(verification.ExpiresAt) {
		return nil, rerrors.NewForbiddenError(n.Name, "challengeId has been expired")
	}
	ch, err := s.channel(n, verification.Channel)
	if err != nil {
		return nil, err
	}
	if err := s.claimAttempt(&store.ChallengeVerification{}, verification.ID, n.Name); err != nil {
		return nil, err
	}
	if !ch.VerifyChallenge(challenge, verification.ChallengeHash, req.Account) {
		return nil, rerrors.NewForbiddenError(n.Name, "Invalid challenge")
	}

	var signed bool
	err = s.database.Client().Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&store.ChallengeVerification{}).
			Where("id = ? AND verified = ?", verification.ID, false).
			Updates(map[string]any{"verified": true, "verified_at": s.now()}).Error; err != nil {
			return err
		}

		var verified int64
		if err := tx.Model(&store.ChallengeVerification{}).
			Where("signature_request_id = ? AND verified = ?", req.ID, true).
			Count(&verified).Error; err != nil {
			return err
		}
		if err := tx.First(req, "id = ?", req.ID).Error; err != nil {
			return err
		}
		if int(verified) < req.RequiredVerifications || req.Signature != "" {
			return nil
		}

		signature, err := s.signRecovery(ctx, n, sg, req)
		if err != nil {
			return err
		}
		req.Guardian = strings.ToLower(guardianAddr.Hex())
		req.Signature = signature
		signed = true
		return tx.Model(&store.SignatureRequest{}).Where("id = ? AND signature = ?", req.ID, "").
			Updates(map[string]any{"guardian": req.Guardian, "signature": req.Signature}).Error
	})
	if err != nil {
		return nil, rerrors.WrapChainError(err, rerrors.ErrCodeDatabase, n.Name, "failed to record challenge")
	}

	if signed {
		s.logger.Info().Str("request_id", req.ID).Uint64("chain_id", req.ChainID).Msg("recovery signed by guardian")
	}
	return resultFor(req), nil
}

func (s *Service) signRecovery(ctx context.Context, n *network.Network, sg signer.Signer, req *store.SignatureRequest) (string, error) {
	owners := make([]ethcommon.Address, len(req.NewOwners))
	for i, owner := range req.NewOwners {
		owners[i] = ethcommon.HexToAddress(owner)
	}
	hash, err := n.Contracts.RecoveryHash(ctx, ethcommon.HexToAddress(req.Account), owners, req.NewThreshold, req.Nonce.Uint256())
	if err != nil {
		return "", rerrors.NewRPCError(n.Name, "failed to compute recovery hash", err)
	}
	sig, err := sg.Sign(ctx, hash.Bytes())
	if err != nil {
		return "", rerrors.NewInternalError(n.Name, fmt.Sprintf("guardian signer %s failed", sg.ID()), err)
	}
	return hexutil.Encode(sig), nil
}

func (s *Service) loadSignatureRequest(id string) (*store.SignatureRequest, error) {
	var req store.SignatureRequest
	if err := s.database.Client().First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rerrors.NewNotFoundError("Signature request not found")
		}
		return nil, rerrors.NewDatabaseError("", "failed to load signature request", err)
	}
	return &req, nil
}
