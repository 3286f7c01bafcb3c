// Package core wires the recovery node's components together and runs them.
package core

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/socialrecovery/recovery-node/recoveryNode/alerts"
	"github.com/socialrecovery/recovery-node/recoveryNode/api"
	"github.com/socialrecovery/recovery-node/recoveryNode/config"
	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
	"github.com/socialrecovery/recovery-node/recoveryNode/cron"
	"github.com/socialrecovery/recovery-node/recoveryNode/db"
	"github.com/socialrecovery/recovery-node/recoveryNode/events"
	"github.com/socialrecovery/recovery-node/recoveryNode/executor"
	"github.com/socialrecovery/recovery-node/recoveryNode/gasprice"
	"github.com/socialrecovery/recovery-node/recoveryNode/guardian"
	"github.com/socialrecovery/recovery-node/recoveryNode/indexer"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/recovery"
	"github.com/socialrecovery/recovery-node/recoveryNode/signer"
	"github.com/socialrecovery/recovery-node/recoveryNode/subscriptions"
)

const shutdownTimeout = 10 * time.Second

// Deps are the externally constructed resources a Node runs on.
type Deps struct {
	Database *db.DB
	Networks *network.Registry
	Signers  *signer.Registry
	Channels *alerts.Registry
}

// Node owns every long-running component.
type Node struct {
	cfg      *config.Config
	log      zerolog.Logger
	deps     Deps
	registry *prometheus.Registry

	executor      *executor.Executor
	tracker       *events.Tracker
	indexers      map[uint64]*indexer.Indexer
	notifications *cron.NotificationJob
	server        *api.Server

	Recovery      *recovery.Manager
	Guardian      *guardian.Service
	Subscriptions *subscriptions.Service
}

// NewFromConfig opens the database, builds signers and alert channels and
// dials every enabled network.
func NewFromConfig(cfg *config.Config, log zerolog.Logger) (*Node, error) {
	database, err := db.OpenFileDB(filepath.Join(cfg.NodeHome, constant.DatabasesSubdir), constant.DatabaseFileName, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	signers, err := signer.NewRegistryFromConfig(cfg.Signers, log)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	channels, err := alerts.NewRegistryFromConfig(cfg.Alerts)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	networks, err := network.Dial(*cfg, log)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	return New(cfg, Deps{Database: database, Networks: networks, Signers: signers, Channels: channels}, log)
}

// New wires the services on top of deps. Networks without an RPC client get
// no executor backend and no indexer.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) (*Node, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	n := &Node{
		cfg:      cfg,
		log:      log.With().Str("component", "node").Logger(),
		deps:     deps,
		registry: registry,
		indexers: make(map[uint64]*indexer.Indexer),
	}

	n.executor = executor.New(deps.Signers, cfg.Executor, executor.NewMetrics(registry), log)
	n.tracker = events.NewTracker(deps.Networks, log)
	if err := n.tracker.LoadSubscriptions(deps.Database.Client()); err != nil {
		return nil, fmt.Errorf("failed to load alert subscriptions: %w", err)
	}

	indexerMetrics := indexer.NewMetrics(registry)
	for _, net := range deps.Networks.All() {
		if net.RPC == nil {
			continue
		}
		estimator, err := gasprice.NewForChain(net.ChainID, net.GasStrategy, net.GasScaleFactor, net.RPC, log)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", net.Name, err)
		}
		n.executor.AddChain(net.ChainID, net.RPC, estimator)
		n.indexers[net.ChainID] = indexer.New(net, net.RPC, n.tracker, deps.Database, cfg.Indexer, indexerMetrics, log)
	}

	n.Recovery = recovery.NewManager(deps.Database, deps.Networks, n.executor, log)
	n.Guardian = guardian.NewService(deps.Database, deps.Networks, deps.Channels, deps.Signers, log)
	n.Subscriptions = subscriptions.NewService(deps.Database, deps.Networks, deps.Channels, cfg.IndexerAlert, n.tracker, log)
	n.notifications = cron.NewNotificationJob(
		deps.Database,
		deps.Channels,
		cfg.IndexerAlert,
		time.Duration(cfg.Notifications.IntervalSeconds)*time.Second,
		cfg.Notifications.RatePerSecond,
		cfg.Notifications.Burst,
		log,
	)
	n.server = api.NewServer(n, registry, cfg.Port, cfg.IsProduction(), log)
	return n, nil
}

// Networks implements api.NodeInterface.
func (n *Node) Networks() []*network.Network {
	return n.deps.Networks.All()
}

// IndexerStatus implements api.NodeInterface.
func (n *Node) IndexerStatus(chainID uint64) (uint64, []indexer.FailedRange, bool) {
	ix, ok := n.indexers[chainID]
	if !ok {
		return 0, nil, false
	}
	return ix.Checkpoint(), ix.FailedRanges(), true
}

// Tracker returns the shared account event tracker.
func (n *Node) Tracker() *events.Tracker {
	return n.tracker
}

// Start checks signers and channels, starts every component and blocks until
// ctx is canceled, then shuts down.
func (n *Node) Start(ctx context.Context) error {
	n.log.Info().Int("networks", len(n.deps.Networks.All())).Msg("🚀 Starting recovery node...")

	if err := n.checkHealth(ctx); err != nil {
		return err
	}

	for chainID, ix := range n.indexers {
		if err := ix.Start(ctx); err != nil {
			n.shutdown()
			return fmt.Errorf("failed to start indexer for chain %d: %w", chainID, err)
		}
	}
	if n.cfg.IndexerAlert != "" {
		if err := n.notifications.Start(ctx); err != nil {
			n.shutdown()
			return err
		}
	}
	if err := n.server.Start(); err != nil {
		n.shutdown()
		return err
	}

	n.log.Info().Msg("✅ Initialization complete. Entering main loop...")
	<-ctx.Done()

	n.log.Info().Msg("🛑 Shutting down recovery node...")
	return n.shutdown()
}

// checkHealth fails on an unusable signer and only warns about alert channels.
func (n *Node) checkHealth(ctx context.Context) error {
	for _, id := range n.deps.Signers.IDs() {
		s, _ := n.deps.Signers.Get(id)
		if err := s.HealthCheck(ctx); err != nil {
			return fmt.Errorf("signer %s failed health check: %w", id, err)
		}
		addr, err := s.Address(ctx)
		if err != nil {
			return fmt.Errorf("signer %s: %w", id, err)
		}
		n.log.Info().Str("signer", id).Str("address", addr.Hex()).Msg("signer ready")
	}
	for _, group := range n.alertGroups() {
		for name, ch := range n.deps.Channels.Group(group) {
			if err := ch.HealthCheck(ctx); err != nil {
				n.log.Warn().Err(err).Str("alert_group", group).Str("channel", name).Msg("alert channel failed health check")
			}
		}
	}
	return nil
}

func (n *Node) alertGroups() []string {
	groups := make([]string, 0, len(n.cfg.Alerts))
	for _, a := range n.cfg.Alerts {
		groups = append(groups, a.ID)
	}
	return groups
}

func (n *Node) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := n.server.Stop(ctx); err != nil {
		n.log.Warn().Err(err).Msg("failed to stop API server")
	}
	n.notifications.Stop()
	for _, ix := range n.indexers {
		ix.Stop()
	}
	n.executor.Stop()
	n.deps.Networks.Close()
	return n.deps.Database.Close()
}
