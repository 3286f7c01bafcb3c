package common

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/socialrecovery/recovery-node/recoveryNode/db"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

// CheckpointStore persists the indexer progress of one chain.
type CheckpointStore struct {
	database *db.DB
	chainID  uint64
}

// NewCheckpointStore creates a checkpoint store for chainID.
func NewCheckpointStore(database *db.DB, chainID uint64) *CheckpointStore {
	return &CheckpointStore{
		database: database,
		chainID:  chainID,
	}
}

// Load returns the stored checkpoint, or found=false when the chain has never been indexed.
func (cs *CheckpointStore) Load() (checkpoint store.IndexerCheckpoint, found bool, err error) {
	if cs.database == nil {
		return checkpoint, false, fmt.Errorf("database is nil")
	}

	result := cs.database.Client().First(&checkpoint, "chain_id = ?", cs.chainID)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return store.IndexerCheckpoint{ChainID: cs.chainID}, false, nil
		}
		return checkpoint, false, fmt.Errorf("failed to load checkpoint: %w", result.Error)
	}
	return checkpoint, true, nil
}

// Init creates the checkpoint at latestIndexedBlock if none exists and
// records whether indexing is active. An existing block height is kept.
func (cs *CheckpointStore) Init(latestIndexedBlock uint64, active bool) (store.IndexerCheckpoint, error) {
	if cs.database == nil {
		return store.IndexerCheckpoint{}, fmt.Errorf("database is nil")
	}

	checkpoint, found, err := cs.Load()
	if err != nil {
		return checkpoint, err
	}
	if !found {
		checkpoint.LatestIndexedBlock = latestIndexedBlock
	}
	checkpoint.Active = active

	if err := cs.database.Client().Save(&checkpoint).Error; err != nil {
		return checkpoint, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return checkpoint, nil
}

// UpdateLatestBlock moves the checkpoint forward. Lower heights are ignored.
func (cs *CheckpointStore) UpdateLatestBlock(blockHeight uint64) error {
	if cs.database == nil {
		return fmt.Errorf("database is nil")
	}

	checkpoint := store.IndexerCheckpoint{
		ChainID:            cs.chainID,
		LatestIndexedBlock: blockHeight,
		Active:             true,
	}
	err := cs.database.Client().Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"latest_indexed_block": gorm.Expr("MAX(latest_indexed_block, excluded.latest_indexed_block)"),
			"updated_at":           gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&checkpoint).Error
	if err != nil {
		return fmt.Errorf("failed to update checkpoint: %w", err)
	}
	return nil
}
