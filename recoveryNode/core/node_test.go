package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialrecovery/recovery-node/recoveryNode/alerts"
	"github.com/socialrecovery/recovery-node/recoveryNode/alerts/alertstest"
	"github.com/socialrecovery/recovery-node/recoveryNode/config"
	"github.com/socialrecovery/recovery-node/recoveryNode/db"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/network/mocks"
	"github.com/socialrecovery/recovery-node/recoveryNode/signer"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

func testDeps(t *testing.T) (Deps, *db.DB) {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	networks := network.NewRegistry(&network.Network{
		Name:             "sepolia",
		ChainID:          11155111,
		GuardianSignerID: "guardian",
		AlertGroup:       "default",
		Contracts:        mocks.NewMockContracts(ctrl),
	})

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	channels := alerts.NewRegistry()
	channels.Add("default", alertstest.NewChannel(alerts.ChannelEmail))

	return Deps{
		Database: database,
		Networks: networks,
		Signers:  signer.NewRegistry(signer.NewLocalSignerFromKey("guardian", key)),
		Channels: channels,
	}, database
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:  config.EnvDevelopment,
		Port:         0,
		IndexerAlert: "default",
		Alerts:       []config.AlertConfig{{ID: "default"}},
	}
}

func TestNewWiresServices(t *testing.T) {
	deps, database := testDeps(t)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, database.Client().Create(&store.AlertSubscription{
		Account: "0xabc", Channel: "email", Target: "a@b.co", Active: true,
	}).Error)

	node, err := New(testConfig(), deps, zerolog.Nop())
	require.NoError(t, err)

	assert.NotNil(t, node.Recovery)
	assert.NotNil(t, node.Guardian)
	assert.NotNil(t, node.Subscriptions)
	assert.Len(t, node.Networks(), 1)
	assert.Len(t, node.Tracker().Subscriptions("0xabc"), 1)

	_, _, ok := node.IndexerStatus(11155111)
	assert.False(t, ok, "networks without RPC run no indexer")
}

func TestStartAndShutdown(t *testing.T) {
	deps, _ := testDeps(t)
	cfg := testConfig()
	cfg.Port = 0

	node, err := New(cfg, deps, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not shut down")
	}

	err = deps.Database.Client().Exec("SELECT 1").Error
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "closed"))
}
