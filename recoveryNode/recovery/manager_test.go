package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/golang/mock/gomock"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialrecovery/recovery-node/recoveryNode/chains/evm"
	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
	"github.com/socialrecovery/recovery-node/recoveryNode/db"
	rerrors "github.com/socialrecovery/recovery-node/recoveryNode/errors"
	"github.com/socialrecovery/recovery-node/recoveryNode/executor"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/network/mocks"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

const testChainID = uint64(11155111)

var (
	testAccount   = ethcommon.HexToAddress("0x00000000000000000000000000000000000000A1")
	guardianOne   = ethcommon.HexToAddress("0x00000000000000000000000000000000000000C1")
	guardianTwo   = ethcommon.HexToAddress("0x00000000000000000000000000000000000000B2")
	newOwner      = "0x00000000000000000000000000000000000000D1"
	testSignature = "0x" + "11" + "22"
	recoveryHash  = ethcommon.HexToHash("0x51c0f964f4e3bcbd933ee1b6ddb553abdf870472a17caa0da58255caabc3643a")
)

// recordingEnqueuer keeps queued jobs for inspection.
type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []*executor.Job
}

func (r *recordingEnqueuer) AddTransaction(job *executor.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type fixture struct {
	manager   *Manager
	database  *db.DB
	contracts *mocks.MockContracts
	network   *network.Network
	queue     *recordingEnqueuer
}

func setup(t *testing.T) *fixture {
	t.Helper()

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	ctrl := gomock.NewController(t)
	contracts := mocks.NewMockContracts(ctrl)
	n := &network.Network{
		Name:           "sepolia",
		ChainID:        testChainID,
		RecoveryModule: ethcommon.HexToAddress("0x0000000000000000000000000000000000000Fee"),
		Execute:        network.SponsorshipPolicy{Enabled: true, SignerID: "exec"},
		Finalize:       network.SponsorshipPolicy{Enabled: true, SignerID: "fin"},
		Contracts:      contracts,
	}
	queue := &recordingEnqueuer{}
	m := NewManager(database, network.NewRegistry(n), queue, zerolog.Nop())
	return &fixture{manager: m, database: database, contracts: contracts, network: n, queue: queue}
}

func (f *fixture) expectValidSignature(signer ethcommon.Address) {
	f.contracts.EXPECT().IsGuardian(gomock.Any(), testAccount, signer).Return(true, nil)
	f.contracts.EXPECT().RecoveryHash(gomock.Any(), testAccount, gomock.Any(), uint64(1), gomock.Any()).Return(recoveryHash, nil)
	f.contracts.EXPECT().IsValidSignature(gomock.Any(), signer, recoveryHash, gomock.Any()).Return(true, nil)
}

func (f *fixture) create(t *testing.T) *store.RecoveryRequest {
	t.Helper()
	f.contracts.EXPECT().WalletNonce(gomock.Any(), testAccount).Return(uint256.NewInt(1), nil)
	f.contracts.EXPECT().RecoveryNonce(gomock.Any(), testAccount).Return(uint256.NewInt(3), nil)
	f.expectValidSignature(guardianOne)

	req, err := f.manager.Create(context.Background(), testAccount.Hex(), []string{newOwner}, 1, testChainID, guardianOne.Hex(), testSignature)
	require.NoError(t, err)
	return req
}

// seed stores a request directly, bypassing on-chain checks.
func (f *fixture) seed(t *testing.T, status string, signers ...ethcommon.Address) *store.RecoveryRequest {
	t.Helper()
	req := &store.RecoveryRequest{
		Account:      "0x00000000000000000000000000000000000000a1",
		ChainID:      testChainID,
		NewOwners:    []string{"0x00000000000000000000000000000000000000d1"},
		NewThreshold: 1,
		Nonce:        store.BigUintFromUint64(3),
		Status:       status,
		Discoverable: true,
	}
	for _, s := range signers {
		req.Signatures = append(req.Signatures, store.RecoverySignature{Signer: s.Hex(), Signature: testSignature})
	}
	require.NoError(t, f.database.Client().Create(req).Error)
	return req
}

func (f *fixture) reload(t *testing.T, id string) *store.RecoveryRequest {
	t.Helper()
	req, err := f.manager.FindByID(id)
	require.NoError(t, err)
	return req
}

func TestCreate(t *testing.T) {
	f := setup(t)

	req := f.create(t)

	assert.True(t, req.Discoverable)
	assert.Equal(t, store.StatusPending, req.Status)
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", req.Account)
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000d1"}, req.NewOwners)
	assert.Equal(t, uint64(3), req.Nonce.Uint64())
	assert.Equal(t, constant.RecoveryEmojiCount, utf8.RuneCountInString(req.Emoji))
	require.Len(t, req.Signatures, 1)
	assert.Equal(t, guardianOne.Hex(), req.Signatures[0].Signer)
}

func TestCreateTwiceIsRateLimited(t *testing.T) {
	f := setup(t)
	f.create(t)

	_, err := f.manager.Create(context.Background(), testAccount.Hex(), []string{newOwner}, 1, testChainID, guardianOne.Hex(), testSignature)
	require.Error(t, err)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeRateLimited))
	assert.Equal(t, "You can only create 1 recovery request every 5 minutes", rerrors.Public(err, true).Message)
}

func TestCreateRejectsNonSafeAccount(t *testing.T) {
	f := setup(t)
	f.contracts.EXPECT().WalletNonce(gomock.Any(), testAccount).Return(nil, errors.New("execution reverted"))

	_, err := f.manager.Create(context.Background(), testAccount.Hex(), []string{newOwner}, 1, testChainID, guardianOne.Hex(), testSignature)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeValidation))

	var count int64
	require.NoError(t, f.database.Client().Model(&store.RecoveryRequest{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateDeletesRequestWhenBootstrapSignatureFails(t *testing.T) {
	f := setup(t)
	f.contracts.EXPECT().WalletNonce(gomock.Any(), testAccount).Return(uint256.NewInt(1), nil)
	f.contracts.EXPECT().RecoveryNonce(gomock.Any(), testAccount).Return(uint256.NewInt(0), nil)
	f.contracts.EXPECT().IsGuardian(gomock.Any(), testAccount, guardianOne).Return(false, nil)

	_, err := f.manager.Create(context.Background(), testAccount.Hex(), []string{newOwner}, 1, testChainID, guardianOne.Hex(), testSignature)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Signer not a guardian")

	var count int64
	require.NoError(t, f.database.Client().Model(&store.RecoveryRequest{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateUnsupportedChain(t *testing.T) {
	f := setup(t)
	_, err := f.manager.Create(context.Background(), testAccount.Hex(), nil, 1, 999, guardianOne.Hex(), testSignature)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeValidation))
}

func TestSignRecoveryHashIsIdempotentAndSorted(t *testing.T) {
	f := setup(t)
	req := f.create(t)
	ctx := context.Background()

	f.expectValidSignature(guardianOne)
	require.NoError(t, f.manager.SignRecoveryHash(ctx, req.ID, guardianOne.Hex(), testSignature))
	assert.Len(t, f.reload(t, req.ID).Signatures, 1)

	f.expectValidSignature(guardianTwo)
	require.NoError(t, f.manager.SignRecoveryHash(ctx, req.ID, guardianTwo.Hex(), testSignature))

	sigs := f.reload(t, req.ID).Signatures
	require.Len(t, sigs, 2)
	assert.Equal(t, guardianTwo.Hex(), sigs[0].Signer)
	assert.Equal(t, guardianOne.Hex(), sigs[1].Signer)
}

func TestSignRecoveryHashRejections(t *testing.T) {
	f := setup(t)
	req := f.create(t)
	ctx := context.Background()

	err := f.manager.SignRecoveryHash(ctx, "missing", guardianTwo.Hex(), testSignature)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeNotFound))

	f.contracts.EXPECT().IsGuardian(gomock.Any(), testAccount, guardianTwo).Return(true, nil)
	f.contracts.EXPECT().RecoveryHash(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(recoveryHash, nil)
	f.contracts.EXPECT().IsValidSignature(gomock.Any(), guardianTwo, recoveryHash, gomock.Any()).Return(false, nil)
	err = f.manager.SignRecoveryHash(ctx, req.ID, guardianTwo.Hex(), testSignature)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid signature")

	assert.Len(t, f.reload(t, req.ID).Signatures, 1)
}

func TestFindByAccount(t *testing.T) {
	f := setup(t)
	req := f.create(t)
	hidden := f.seed(t, store.StatusPending)
	require.NoError(t, f.database.Client().Model(hidden).Update("discoverable", false).Error)

	found, err := f.manager.FindByAccount(testAccount.Hex(), testChainID, uint256.NewInt(3))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, req.ID, found[0].ID)

	found, err = f.manager.FindByAccount(testAccount.Hex(), testChainID, uint256.NewInt(4))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFindByIDNotFound(t *testing.T) {
	f := setup(t)
	_, err := f.manager.FindByID("nope")
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeNotFound))
}

func (f *fixture) expectExecutionChecks(threshold uint64, onChainApprovals uint64) {
	f.contracts.EXPECT().RecoveryNonce(gomock.Any(), testAccount).Return(uint256.NewInt(3), nil).AnyTimes()
	f.contracts.EXPECT().Threshold(gomock.Any(), testAccount).Return(uint256.NewInt(threshold), nil).AnyTimes()
	f.contracts.EXPECT().PendingRecovery(gomock.Any(), testAccount).Return(evm.PendingRecovery{
		GuardiansApprovalCount: uint256.NewInt(onChainApprovals),
		NewThreshold:           uint256.NewInt(0),
	}, nil).AnyTimes()
}

func TestSponsorExecutionInsufficientSignaturesNeverEnqueues(t *testing.T) {
	f := setup(t)
	req := f.seed(t, store.StatusPending, guardianOne)
	f.expectExecutionChecks(2, 0)

	_, err := f.manager.SponsorExecution(context.Background(), req.ID)
	require.Error(t, err)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeValidation))
	assert.Contains(t, err.Error(), "collected 1 signatures, account threshold is 2")
	assert.Zero(t, f.queue.count())
	assert.Equal(t, store.StatusPending, f.reload(t, req.ID).Status)
}

func TestSponsorExecutionStaleNonce(t *testing.T) {
	f := setup(t)
	req := f.seed(t, store.StatusPending, guardianOne)
	f.contracts.EXPECT().RecoveryNonce(gomock.Any(), testAccount).Return(uint256.NewInt(4), nil)

	_, err := f.manager.SponsorExecution(context.Background(), req.ID)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeValidation))
	assert.Zero(t, f.queue.count())
}

func TestSponsorExecutionOnChainRequestConflict(t *testing.T) {
	f := setup(t)
	req := f.seed(t, store.StatusPending, guardianOne)
	f.expectExecutionChecks(1, 1)

	_, err := f.manager.SponsorExecution(context.Background(), req.ID)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeConflict))
}

func TestSponsorExecutionDisabled(t *testing.T) {
	f := setup(t)
	f.network.Execute.Enabled = false
	req := f.seed(t, store.StatusPending, guardianOne)

	_, err := f.manager.SponsorExecution(context.Background(), req.ID)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeValidation))
}

func TestConcurrentSponsorExecutionEnqueuesOnce(t *testing.T) {
	f := setup(t)
	req := f.seed(t, store.StatusPending, guardianOne, guardianTwo)
	f.expectExecutionChecks(2, 0)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.manager.SponsorExecution(context.Background(), req.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.queue.count())
	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeConflict), err.Error())
		}
	}
	assert.Equal(t, len(errs)-1, failures)

	job := f.queue.jobs[0]
	assert.Equal(t, "exec", job.SignerID)
	assert.Equal(t, f.network.RecoveryModule, job.To)
	assert.NotEmpty(t, job.Data)
	assert.Equal(t, store.StatusExecutionInProgress, f.reload(t, req.ID).Status)
}

func TestSponsorExecutionCallbacks(t *testing.T) {
	f := setup(t)
	req := f.seed(t, store.StatusPending, guardianOne)
	f.expectExecutionChecks(1, 0)
	ctx := context.Background()

	_, err := f.manager.SponsorExecution(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, f.reload(t, req.ID).Execute.SponsoredAt)

	f.queue.jobs[0].Callback(false, "")
	reverted := f.reload(t, req.ID)
	assert.Equal(t, store.StatusPending, reverted.Status)
	assert.Nil(t, reverted.Execute.SponsoredAt)

	_, err = f.manager.SponsorExecution(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, 2, f.queue.count())
	f.queue.jobs[1].Callback(true, "0xfeed")

	executed := f.reload(t, req.ID)
	assert.Equal(t, store.StatusExecuted, executed.Status)
	assert.True(t, executed.Execute.Sponsored)
	assert.Equal(t, "0xfeed", executed.Execute.TransactionHash)

	hash, err := f.manager.SponsorExecution(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", hash)
	assert.Equal(t, 2, f.queue.count())
}

func TestSponsorExecutionRateLimit(t *testing.T) {
	f := setup(t)
	f.network.Execute.RateLimit = &network.RateLimit{MaxPerAccount: 1, Period: time.Hour}
	first := f.seed(t, store.StatusPending, guardianOne)
	second := f.seed(t, store.StatusPending, guardianOne)
	f.expectExecutionChecks(1, 0)
	ctx := context.Background()

	_, err := f.manager.SponsorExecution(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.manager.SponsorExecution(ctx, second.ID)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeRateLimited))
	assert.Equal(t, 1, f.queue.count())
}

func TestSponsorFinalization(t *testing.T) {
	f := setup(t)
	req := f.seed(t, store.StatusExecuted, guardianOne)
	now := time.Unix(1_700_000_000, 0)
	f.manager.now = func() time.Time { return now }
	ctx := context.Background()

	pending := evm.PendingRecovery{ExecuteAfter: uint64(now.Unix()) + 60, GuardiansApprovalCount: uint256.NewInt(1)}
	f.contracts.EXPECT().PendingRecovery(gomock.Any(), testAccount).DoAndReturn(
		func(context.Context, ethcommon.Address) (evm.PendingRecovery, error) { return pending, nil }).Times(2)

	_, err := f.manager.SponsorFinalization(ctx, req.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Recovery request is not yet ready for finalization")
	assert.Zero(t, f.queue.count())

	now = now.Add(2 * time.Minute)
	_, err = f.manager.SponsorFinalization(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.queue.count())
	assert.Equal(t, "fin", f.queue.jobs[0].SignerID)
	assert.Equal(t, store.StatusFinalizationInProgress, f.reload(t, req.ID).Status)

	f.queue.jobs[0].Callback(true, "0xbeef")
	finalized := f.reload(t, req.ID)
	assert.Equal(t, store.StatusFinalized, finalized.Status)
	assert.Equal(t, "0xbeef", finalized.Finalize.TransactionHash)
}

func TestSponsorFinalizationRequiresExecuted(t *testing.T) {
	f := setup(t)
	req := f.seed(t, store.StatusPending, guardianOne)

	_, err := f.manager.SponsorFinalization(context.Background(), req.ID)
	assert.True(t, rerrors.IsChainError(err, rerrors.ErrCodeValidation))
}

func TestSponsorFinalizationFailureRevertsToExecuted(t *testing.T) {
	f := setup(t)
	req := f.seed(t, store.StatusExecuted, guardianOne)
	f.contracts.EXPECT().PendingRecovery(gomock.Any(), testAccount).Return(evm.PendingRecovery{ExecuteAfter: 1}, nil)

	_, err := f.manager.SponsorFinalization(context.Background(), req.ID)
	require.NoError(t, err)
	f.queue.jobs[0].Callback(false, "")

	assert.Equal(t, store.StatusExecuted, f.reload(t, req.ID).Status)
}
