package guardian

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang/mock/gomock"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialrecovery/recovery-node/recoveryNode/alerts"
	"github.com/socialrecovery/recovery-node/recoveryNode/alerts/alertstest"
	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
	"github.com/socialrecovery/recovery-node/recoveryNode/db"
	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/network/mocks"
	"github.com/socialrecovery/recovery-node/recoveryNode/signer"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

const (
	testChainID    = uint64(84532)
	testAlertGroup = "default"
	ownerSignature = "0x1234"
)

var (
	testAccount  = ethcommon.HexToAddress("0x00000000000000000000000000000000000000A1")
	newOwner     = "0x00000000000000000000000000000000000000D1"
	recoveryHash = ethcommon.HexToHash("0x9c1185a5c5e9fc54612808977ee8f548b2258d31b2b2b1fa1f1c1e0a1a2b3c4d")
	testNow      = time.Unix(1_700_000_000, 0)
)

type fixture struct {
	service   *Service
	database  *db.DB
	contracts *mocks.MockContracts
	network   *network.Network
	email     *alertstest.Channel
	sms       *alertstest.Channel
	guardian  ethcommon.Address
}

func setup(t *testing.T) *fixture {
	t.Helper()

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	ctrl := gomock.NewController(t)
	contracts := mocks.NewMockContracts(ctrl)
	n := &network.Network{
		Name:             "base_sepolia",
		ChainID:          testChainID,
		GuardianSignerID: "guardian",
		Contracts:        contracts,
	}
	n.AlertGroup = testAlertGroup

	email := alertstest.NewChannel(alerts.ChannelEmail)
	sms := alertstest.NewChannel(alerts.ChannelSMS)
	channels := alerts.NewRegistry()
	channels.Add(testAlertGroup, email)
	channels.Add(testAlertGroup, sms)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	guardianSigner := signer.NewLocalSignerFromKey("guardian", key)

	svc := NewService(database, network.NewRegistry(n), channels, signer.NewRegistry(guardianSigner), zerolog.Nop())
	svc.now = func() time.Time { return testNow }

	return &fixture{
		service:   svc,
		database:  database,
		contracts: contracts,
		network:   n,
		email:     email,
		sms:       sms,
		guardian:  crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (f *fixture) expectOwnerSignature(message string, valid bool) {
	f.contracts.EXPECT().
		IsValidMessageSignature(gomock.Any(), testAccount, message, hexutil.MustDecode(ownerSignature)).
		Return(valid, nil)
}

func (f *fixture) seedRegistration(t *testing.T, channel, target string) {
	t.Helper()
	require.NoError(t, f.database.Client().Create(&store.AuthRegistration{
		Account:  strings.ToLower(testAccount.Hex()),
		ChainID:  testChainID,
		Channel:  channel,
		Target:   target,
		Guardian: strings.ToLower(f.guardian.Hex()),
	}).Error)
}

func timestamp() int64 { return testNow.UnixMilli() }

func TestCreateRegistrationAndSubmitChallenge(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.expectOwnerSignature(fmt.Sprintf("%d:email:Owner@Example.com:%d", testChainID, timestamp()), true)
	challengeID, err := f.service.CreateRegistration(ctx, testAccount.Hex(), testChainID, "email", "Owner@Example.com", timestamp(), ownerSignature)
	require.NoError(t, err)
	require.NotEmpty(t, challengeID)

	sent := f.email.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, constant.TemplateOTPVerification, sent[0].Template)
	assert.Equal(t, "owner@example.com", sent[0].Target)
	assert.Equal(t, otpSubject, sent[0].Vars["subject"])

	_, _, err = f.service.SubmitRegistrationChallenge(ctx, challengeID, "000000")
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeForbidden))

	var pending store.AuthRegistrationRequest
	require.NoError(t, f.database.Client().First(&pending, "id = ?", challengeID).Error)
	assert.Equal(t, 1, pending.Tries)
	assert.Equal(t, testNow.Add(constant.ChallengeTTL).Unix(), pending.ExpiresAt.Unix())

	regID, guardian, err := f.service.SubmitRegistrationChallenge(ctx, challengeID, f.email.LastOTP("owner@example.com"))
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(f.guardian.Hex()), guardian)

	var reg store.AuthRegistration
	require.NoError(t, f.database.Client().First(&reg, "id = ?", regID).Error)
	assert.Equal(t, "owner@example.com", reg.Target)
	assert.Equal(t, strings.ToLower(testAccount.Hex()), reg.Account)

	_, _, err = f.service.SubmitRegistrationChallenge(ctx, challengeID, f.email.LastOTP("owner@example.com"))
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeConflict))

	_, _, err = f.service.SubmitRegistrationChallenge(ctx, "missing", "123456")
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeNotFound))
}

func TestCreateRegistrationRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("guardian disabled", func(t *testing.T) {
		f := setup(t)
		f.network.GuardianSignerID = ""
		_, err := f.service.CreateRegistration(ctx, testAccount.Hex(), testChainID, "email", "a@b.co", timestamp(), ownerSignature)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Recovery Guardian is not enabled on this network")
	})

	t.Run("unknown channel", func(t *testing.T) {
		f := setup(t)
		_, err := f.service.CreateRegistration(ctx, testAccount.Hex(), testChainID, "telegram", "a@b.co", timestamp(), ownerSignature)
		assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeValidation))
	})

	t.Run("incompatible target", func(t *testing.T) {
		f := setup(t)
		_, err := f.service.CreateRegistration(ctx, testAccount.Hex(), testChainID, "sms", "a@b.co", timestamp(), ownerSignature)
		assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeForbidden))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		f := setup(t)
		stale := testNow.Add(-6 * time.Minute).UnixMilli()
		_, err := f.service.CreateRegistration(ctx, testAccount.Hex(), testChainID, "email", "a@b.co", stale, ownerSignature)
		require.Error(t, err)
		assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeForbidden))
		assert.Contains(t, err.Error(), "Timestamp expired")
	})

	t.Run("invalid signature", func(t *testing.T) {
		f := setup(t)
		f.expectOwnerSignature(fmt.Sprintf("%d:email:a@b.co:%d", testChainID, timestamp()), false)
		_, err := f.service.CreateRegistration(ctx, testAccount.Hex(), testChainID, "email", "a@b.co", timestamp(), ownerSignature)
		assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeForbidden))
		assert.Empty(t, f.email.Messages())
	})

	t.Run("duplicate", func(t *testing.T) {
		f := setup(t)
		f.seedRegistration(t, "email", "a@b.co")
		f.expectOwnerSignature(fmt.Sprintf("%d:email:a@b.co:%d", testChainID, timestamp()), true)
		_, err := f.service.CreateRegistration(ctx, testAccount.Hex(), testChainID, "email", "a@b.co", timestamp(), ownerSignature)
		assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeConflict))
	})

	t.Run("send failure persists nothing", func(t *testing.T) {
		f := setup(t)
		f.email.FailSends(errors.New("smtp down"))
		f.expectOwnerSignature(fmt.Sprintf("%d:email:a@b.co:%d", testChainID, timestamp()), true)
		_, err := f.service.CreateRegistration(ctx, testAccount.Hex(), testChainID, "email", "a@b.co", timestamp(), ownerSignature)
		assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeNetwork))

		var count int64
		require.NoError(t, f.database.Client().Model(&store.AuthRegistrationRequest{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestSubmitRegistrationChallengeExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.expectOwnerSignature(fmt.Sprintf("%d:sms:+15550001111:%d", testChainID, timestamp()), true)
	challengeID, err := f.service.CreateRegistration(ctx, testAccount.Hex(), testChainID, "sms", "+15550001111", timestamp(), ownerSignature)
	require.NoError(t, err)

	f.service.now = func() time.Time { return testNow.Add(constant.ChallengeTTL + time.Second) }
	_, _, err = f.service.SubmitRegistrationChallenge(ctx, challengeID, f.sms.LastOTP("+15550001111"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "challengeId has been expired")
}

func TestFetchAndDeleteRegistrations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedRegistration(t, "email", "a@b.co")
	f.seedRegistration(t, "sms", "+15550001111")

	f.expectOwnerSignature(fmt.Sprintf("%d:%d", testChainID, timestamp()), true)
	regs, err := f.service.FetchRegistrations(ctx, testAccount.Hex(), testChainID, timestamp(), ownerSignature)
	require.NoError(t, err)
	require.Len(t, regs, 2)

	target := regs[0].ID
	f.expectOwnerSignature(fmt.Sprintf("%s:%d", target, timestamp()), false)
	err = f.service.DeleteRegistration(ctx, target, timestamp(), ownerSignature)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeForbidden))

	f.expectOwnerSignature(fmt.Sprintf("%s:%d", target, timestamp()), true)
	require.NoError(t, f.service.DeleteRegistration(ctx, target, timestamp(), ownerSignature))

	var count int64
	require.NoError(t, f.database.Client().Model(&store.AuthRegistration{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	err = f.service.DeleteRegistration(ctx, target, timestamp(), ownerSignature)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeNotFound))
}

func TestRequestSignatureRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("not a guardian", func(t *testing.T) {
		f := setup(t)
		f.contracts.EXPECT().IsGuardian(gomock.Any(), testAccount, f.guardian).Return(false, nil)
		_, err := f.service.RequestSignature(ctx, testAccount.Hex(), []string{newOwner}, 1, testChainID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has not set")
	})

	t.Run("no registrations", func(t *testing.T) {
		f := setup(t)
		f.contracts.EXPECT().IsGuardian(gomock.Any(), testAccount, f.guardian).Return(true, nil)
		_, err := f.service.RequestSignature(ctx, testAccount.Hex(), []string{newOwner}, 1, testChainID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "No registrations found for this account on this chainId")
	})
}

func TestAutoSignerSignsOnceAtMajority(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedRegistration(t, "email", "a@b.co")
	f.seedRegistration(t, "email", "c@d.co")
	f.seedRegistration(t, "sms", "+15550001111")

	f.contracts.EXPECT().IsGuardian(gomock.Any(), testAccount, f.guardian).Return(true, nil).AnyTimes()
	f.contracts.EXPECT().RecoveryNonce(gomock.Any(), testAccount).Return(uint256.NewInt(4), nil)

	var hashCalls atomic.Int32
	f.contracts.EXPECT().
		RecoveryHash(gomock.Any(), testAccount, []ethcommon.Address{ethcommon.HexToAddress(newOwner)}, uint64(1), uint256.NewInt(4)).
		DoAndReturn(func(context.Context, ethcommon.Address, []ethcommon.Address, uint64, *uint256.Int) (ethcommon.Hash, error) {
			hashCalls.Add(1)
			return recoveryHash, nil
		}).Times(1)

	res, err := f.service.RequestSignature(ctx, testAccount.Hex(), []string{newOwner}, 1, testChainID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RequiredVerifications)
	require.Len(t, res.Auths, 3)
	masked := make([]string, 0, len(res.Auths))
	for _, auth := range res.Auths {
		masked = append(masked, auth.MaskedTarget)
	}
	assert.ElementsMatch(t, []string{"***b.co", "***d.co", "***1111"}, masked)

	otp := func(auth ChallengeAuth) string {
		var v store.ChallengeVerification
		require.NoError(t, f.database.Client().First(&v, "id = ?", auth.ChallengeID).Error)
		if auth.Channel == alerts.ChannelEmail {
			return f.email.LastOTP(v.Target)
		}
		return f.sms.LastOTP(v.Target)
	}

	first, err := f.service.SubmitSignatureRequestChallenge(ctx, res.RequestID, res.Auths[0].ChallengeID, otp(res.Auths[0]))
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Empty(t, first.Signature)

	_, err = f.service.SubmitSignatureRequestChallenge(ctx, res.RequestID, res.Auths[1].ChallengeID, "999999")
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeForbidden))

	second, err := f.service.SubmitSignatureRequestChallenge(ctx, res.RequestID, res.Auths[1].ChallengeID, otp(res.Auths[1]))
	require.NoError(t, err)
	require.NotEmpty(t, second.Signature)
	assert.Equal(t, strings.ToLower(f.guardian.Hex()), second.Signer)

	sig := hexutil.MustDecode(second.Signature)
	require.Len(t, sig, 65)
	sig[64] -= 27
	pub, err := crypto.SigToPub(recoveryHash.Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, f.guardian, crypto.PubkeyToAddress(*pub))

	third, err := f.service.SubmitSignatureRequestChallenge(ctx, res.RequestID, res.Auths[2].ChallengeID, otp(res.Auths[2]))
	require.NoError(t, err)
	assert.Equal(t, second.Signature, third.Signature)

	again, err := f.service.SubmitSignatureRequestChallenge(ctx, res.RequestID, res.Auths[0].ChallengeID, "wrong")
	require.NoError(t, err)
	assert.Equal(t, second.Signature, again.Signature)

	assert.Equal(t, int32(1), hashCalls.Load())
}

func TestSubmitSignatureRequestChallengeErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedRegistration(t, "email", "a@b.co")

	f.contracts.EXPECT().IsGuardian(gomock.Any(), testAccount, f.guardian).Return(true, nil).AnyTimes()
	f.contracts.EXPECT().RecoveryNonce(gomock.Any(), testAccount).Return(uint256.NewInt(0), nil)

	res, err := f.service.RequestSignature(ctx, testAccount.Hex(), []string{newOwner}, 1, testChainID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RequiredVerifications)

	_, err = f.service.SubmitSignatureRequestChallenge(ctx, "missing", res.Auths[0].ChallengeID, "000001")
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeNotFound))

	_, err = f.service.SubmitSignatureRequestChallenge(ctx, res.RequestID, "missing", "000001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "challengeId not found for this requestId")

	f.service.now = func() time.Time { return testNow.Add(constant.ChallengeTTL + time.Minute) }
	_, err = f.service.SubmitSignatureRequestChallenge(ctx, res.RequestID, res.Auths[0].ChallengeID, f.email.LastOTP("a@b.co"))
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeForbidden))
}

func TestChallengeAttemptsAreLimited(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.expectOwnerSignature(fmt.Sprintf("%d:email:owner@example.com:%d", testChainID, timestamp()), true)
	challengeID, err := f.service.CreateRegistration(ctx, testAccount.Hex(), testChainID, "email", "owner@example.com", timestamp(), ownerSignature)
	require.NoError(t, err)

	for i := 0; i < constant.ChallengeMaxTries; i++ {
		_, _, err = f.service.SubmitRegistrationChallenge(ctx, challengeID, "999999")
		require.True(t, rerrors.IsChainError(err, rerrors.ErrCodeForbidden), "attempt %d", i+1)
	}

	_, _, err = f.service.SubmitRegistrationChallenge(ctx, challengeID, f.email.LastOTP("owner@example.com"))
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeRateLimited))

	var pending store.AuthRegistrationRequest
	require.NoError(t, f.database.Client().First(&pending, "id = ?", challengeID).Error)
	assert.Equal(t, constant.ChallengeMaxTries, pending.Tries)
	assert.False(t, pending.Verified)
}

func TestSignatureChallengeAttemptsAreLimited(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedRegistration(t, "email", "a@b.co")

	f.contracts.EXPECT().IsGuardian(gomock.Any(), testAccount, f.guardian).Return(true, nil).AnyTimes()
	f.contracts.EXPECT().RecoveryNonce(gomock.Any(), testAccount).Return(uint256.NewInt(0), nil)

	res, err := f.service.RequestSignature(ctx, testAccount.Hex(), []string{newOwner}, 1, testChainID)
	require.NoError(t, err)

	for i := 0; i < constant.ChallengeMaxTries; i++ {
		_, err = f.service.SubmitSignatureRequestChallenge(ctx, res.RequestID, res.Auths[0].ChallengeID, "999999")
		require.True(t, rerrors.IsChainError(err, rerrors.ErrCodeForbidden), "attempt %d", i+1)
	}

	// RecoveryHash is never reached: the correct code is refused
	_, err = f.service.SubmitSignatureRequestChallenge(ctx, res.RequestID, res.Auths[0].ChallengeID, f.email.LastOTP("a@b.co"))
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeRateLimited))
}
