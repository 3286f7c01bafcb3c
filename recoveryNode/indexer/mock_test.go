package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeLogSource serves logs from memory. Queries overlapping a failing block error out.
type fakeLogSource struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	failing  map[uint64]bool
	headErrs int
	queries  [][2]uint64
}

func newFakeLogSource(head uint64) *fakeLogSource {
	return &fakeLogSource{head: head, failing: make(map[uint64]bool)}
}

func (f *fakeLogSource) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErrs > 0 {
		f.headErrs--
		return 0, errors.New("connection reset")
	}
	return f.head, nil
}

func (f *fakeLogSource) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.queries = append(f.queries, [2]uint64{from, to})
	for b := range f.failing {
		if b >= from && b <= to {
			return nil, errors.New("query timeout")
		}
	}

	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLogSource) setFailing(block uint64, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if failing {
		f.failing[block] = true
	} else {
		delete(f.failing, block)
	}
}

func (f *fakeLogSource) addLog(l types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
}

func addressTopic(addr ethcommon.Address) ethcommon.Hash {
	return ethcommon.BytesToHash(ethcommon.LeftPadBytes(addr.Bytes(), 32))
}

func word(v uint64) []byte {
	return ethcommon.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func moduleLog(block uint64, txIndex, logIndex uint, topics []ethcommon.Hash, data ...[]byte) types.Log {
	var payload []byte
	for _, d := range data {
		payload = append(payload, d...)
	}
	return types.Log{
		Topics:      topics,
		Data:        payload,
		BlockNumber: block,
		TxIndex:     txIndex,
		Index:       logIndex,
		TxHash:      ethcommon.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(logIndex))),
	}
}
