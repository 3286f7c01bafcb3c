package indexer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/socialrecovery/recovery-node/recoveryNode/events"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

// Topic hashes of the recovery module events.
var (
	TopicGuardianAdded     = ethcommon.HexToHash("0xbc3292102fa77e083913064b282926717cdfaede4d35f553d66366c0a3da755a")
	TopicGuardianRevoked   = ethcommon.HexToHash("0x548f10dcba266544123ad8cf8284f25c4baa659cba25dbdf16a06ea11235de9b")
	TopicChangedThreshold  = ethcommon.HexToHash("0xde3e32a86d32ca955594af26f515d3dc60003ab279776b14b4012fe99d96f8f6")
	TopicRecoveryExecuted  = ethcommon.HexToHash("0x1fa74635dcccfa96011b50295a26dd08b8c3c6ca7d66ede450288192674ebf01")
	TopicRecoveryFinalized = ethcommon.HexToHash("0x8f02bbdd0d302f6cdd4a448157ae4156c07384b648beae077292ba804d60ad5a")
	TopicRecoveryCanceled  = ethcommon.HexToHash("0x81da66c7aac3ee4365918a5d70f73e846a59e8a8af01ef155e86518190490519")
)

var topicKinds = map[ethcommon.Hash]events.Kind{
	TopicGuardianAdded:     events.KindGuardianAdded,
	TopicGuardianRevoked:   events.KindGuardianRevoked,
	TopicChangedThreshold:  events.KindChangedThreshold,
	TopicRecoveryExecuted:  events.KindRecoveryExecuted,
	TopicRecoveryFinalized: events.KindRecoveryFinalized,
	TopicRecoveryCanceled:  events.KindRecoveryCanceled,
}

// eventTopics is the topic[0] filter passed to eth_getLogs.
var eventTopics = []ethcommon.Hash{
	TopicGuardianAdded,
	TopicGuardianRevoked,
	TopicChangedThreshold,
	TopicRecoveryExecuted,
	TopicRecoveryFinalized,
	TopicRecoveryCanceled,
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

var (
	uint256Type = mustType("uint256")
	uint64Type  = mustType("uint64")

	thresholdArgs = abi.Arguments{{Name: "newThreshold", Type: uint256Type}}
	executedArgs  = abi.Arguments{
		{Name: "newThreshold", Type: uint256Type},
		{Name: "nonce", Type: uint256Type},
		{Name: "executeAfter", Type: uint64Type},
		{Name: "guardiansApprovalCount", Type: uint256Type},
	}
	finalizedArgs = abi.Arguments{
		{Name: "newThreshold", Type: uint256Type},
		{Name: "nonce", Type: uint256Type},
	}
	canceledArgs = abi.Arguments{{Name: "nonce", Type: uint256Type}}
)

// DecodeLog turns a recovery module log into an Event. ok is false for logs with an unknown topic.
func DecodeLog(chainID uint64, log types.Log) (e events.Event, ok bool, err error) {
	if len(log.Topics) < 2 {
		return e, false, nil
	}
	kind, known := topicKinds[log.Topics[0]]
	if !known {
		return e, false, nil
	}

	e = events.Event{
		ChainID:          chainID,
		Account:          topicAddress(log.Topics[1]),
		BlockNumber:      log.BlockNumber,
		TransactionIndex: log.TxIndex,
		LogIndex:         log.Index,
		TransactionHash:  log.TxHash.Hex(),
	}

	switch kind {
	case events.KindGuardianAdded, events.KindGuardianRevoked:
		if len(log.Topics) < 3 {
			return e, false, fmt.Errorf("%s log missing guardian topic", kind)
		}
		guardian := topicAddress(log.Topics[2])
		if kind == events.KindGuardianAdded {
			e.Payload = events.GuardianAdded{Guardian: guardian}
		} else {
			e.Payload = events.GuardianRevoked{Guardian: guardian}
		}

	case events.KindChangedThreshold:
		values, err := unpack(thresholdArgs, log.Data)
		if err != nil {
			return e, false, fmt.Errorf("failed to decode %s: %w", kind, err)
		}
		e.Payload = events.ChangedThreshold{NewThreshold: values[0]}

	case events.KindRecoveryExecuted:
		raw, err := executedArgs.Unpack(log.Data)
		if err != nil {
			return e, false, fmt.Errorf("failed to decode %s: %w", kind, err)
		}
		executeAfter, isUint64 := raw[2].(uint64)
		if !isUint64 {
			return e, false, fmt.Errorf("unexpected executeAfter type %T", raw[2])
		}
		e.Payload = events.RecoveryExecuted{
			NewThreshold:           toUint256(raw[0]),
			Nonce:                  toUint256(raw[1]),
			ExecuteAfter:           executeAfter,
			GuardiansApprovalCount: toUint256(raw[3]),
		}

	case events.KindRecoveryFinalized:
		values, err := unpack(finalizedArgs, log.Data)
		if err != nil {
			return e, false, fmt.Errorf("failed to decode %s: %w", kind, err)
		}
		e.Payload = events.RecoveryFinalized{NewThreshold: values[0], Nonce: values[1]}

	case events.KindRecoveryCanceled:
		values, err := unpack(canceledArgs, log.Data)
		if err != nil {
			return e, false, fmt.Errorf("failed to decode %s: %w", kind, err)
		}
		e.Payload = events.RecoveryCanceled{Nonce: values[0]}
	}
	return e, true, nil
}

// topicAddress returns the lowercased address held in the last 20 bytes of an indexed topic.
func topicAddress(topic ethcommon.Hash) string {
	return strings.ToLower(ethcommon.BytesToAddress(topic.Bytes()[12:]).Hex())
}

// unpack decodes data that consists only of uint256 words.
func unpack(args abi.Arguments, data []byte) ([]*uint256.Int, error) {
	raw, err := args.Unpack(data)
	if err != nil {
		return nil, err
	}
	out := make([]*uint256.Int, len(raw))
	for i, v := range raw {
		out[i] = toUint256(v)
	}
	return out, nil
}

func toUint256(v any) *uint256.Int {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return new(uint256.Int)
	}
	u, _ := uint256.FromBig(b)
	return u
}

// eventRow maps an event onto its append-only table row.
func eventRow(e events.Event) (any, error) {
	rec := store.EventRecord{
		EventKey:         e.Key(),
		ChainID:          e.ChainID,
		Account:          e.Account,
		BlockNumber:      e.BlockNumber,
		TransactionIndex: e.TransactionIndex,
		LogIndex:         e.LogIndex,
		TransactionHash:  e.TransactionHash,
	}

	switch p := e.Payload.(type) {
	case events.GuardianAdded:
		return &store.GuardianAddedEvent{EventRecord: rec, Guardian: p.Guardian}, nil
	case events.GuardianRevoked:
		return &store.GuardianRevokedEvent{EventRecord: rec, Guardian: p.Guardian}, nil
	case events.ChangedThreshold:
		return &store.ThresholdChangedEvent{EventRecord: rec, NewThreshold: store.NewBigUint(p.NewThreshold)}, nil
	case events.RecoveryExecuted:
		return &store.RecoveryExecutedEvent{
			EventRecord:            rec,
			NewThreshold:           store.NewBigUint(p.NewThreshold),
			Nonce:                  store.NewBigUint(p.Nonce),
			ExecuteAfter:           p.ExecuteAfter,
			GuardiansApprovalCount: store.NewBigUint(p.GuardiansApprovalCount),
		}, nil
	case events.RecoveryFinalized:
		return &store.RecoveryFinalizedEvent{
			EventRecord:  rec,
			NewThreshold: store.NewBigUint(p.NewThreshold),
			Nonce:        store.NewBigUint(p.Nonce),
		}, nil
	case events.RecoveryCanceled:
		return &store.RecoveryCanceledEvent{EventRecord: rec, Nonce: store.NewBigUint(p.Nonce)}, nil
	}
	return nil, fmt.Errorf("unsupported event payload %T", e.Payload)
}
