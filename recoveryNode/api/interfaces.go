package api

import (
	"github.com/socialrecovery/recovery-node/recoveryNode/indexer"
	"github.com/socialrecovery/recovery-node/recoveryNode/network"
)

// NodeInterface defines the methods needed by the API server
type NodeInterface interface {
	Networks() []*network.Network
	// IndexerStatus reports the indexer of chainID, ok is false when it is not running.
	IndexerStatus(chainID uint64) (checkpoint uint64, failed []indexer.FailedRange, ok bool)
}
