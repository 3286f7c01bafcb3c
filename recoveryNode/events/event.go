// Package events buffers decoded module events per account and turns them
// into human readable change summaries.
package events

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Kind names an indexed event type.
type Kind string

const (
	KindGuardianAdded     Kind = "GuardianAdded"
	KindGuardianRevoked   Kind = "GuardianRevoked"
	KindChangedThreshold  Kind = "ChangedThreshold"
	KindRecoveryExecuted  Kind = "RecoveryExecuted"
	KindRecoveryFinalized Kind = "RecoveryFinalized"
	KindRecoveryCanceled  Kind = "RecoveryCanceled"
)

// Payload is the type-specific part of an Event. The set of implementations is closed.
type Payload interface {
	Kind() Kind
	isPayload()
}

type GuardianAdded struct {
	Guardian string
}

type GuardianRevoked struct {
	Guardian string
}

type ChangedThreshold struct {
	NewThreshold *uint256.Int
}

type RecoveryExecuted struct {
	NewThreshold           *uint256.Int
	Nonce                  *uint256.Int
	ExecuteAfter           uint64
	GuardiansApprovalCount *uint256.Int
}

type RecoveryFinalized struct {
	NewThreshold *uint256.Int
	Nonce        *uint256.Int
}

type RecoveryCanceled struct {
	Nonce *uint256.Int
}

func (GuardianAdded) Kind() Kind     { return KindGuardianAdded }
func (GuardianRevoked) Kind() Kind   { return KindGuardianRevoked }
func (ChangedThreshold) Kind() Kind  { return KindChangedThreshold }
func (RecoveryExecuted) Kind() Kind  { return KindRecoveryExecuted }
func (RecoveryFinalized) Kind() Kind { return KindRecoveryFinalized }
func (RecoveryCanceled) Kind() Kind  { return KindRecoveryCanceled }

func (GuardianAdded) isPayload()     {}
func (GuardianRevoked) isPayload()   {}
func (ChangedThreshold) isPayload()  {}
func (RecoveryExecuted) isPayload()  {}
func (RecoveryFinalized) isPayload() {}
func (RecoveryCanceled) isPayload()  {}

// Event is one decoded log of the recovery module.
type Event struct {
	ChainID          uint64
	Account          string // lowercased hex
	BlockNumber      uint64
	TransactionIndex uint
	LogIndex         uint
	TransactionHash  string
	Payload          Payload
}

// Kind returns the payload kind.
func (e Event) Kind() Kind {
	return e.Payload.Kind()
}

// Key identifies the log uniquely: chainId:txHash:logIndex.
func (e Event) Key() string {
	return fmt.Sprintf("%d:%s:%d", e.ChainID, e.TransactionHash, e.LogIndex)
}

// Less orders events by block, transaction index and log index.
func Less(a, b Event) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	if a.TransactionIndex != b.TransactionIndex {
		return a.TransactionIndex < b.TransactionIndex
	}
	return a.LogIndex < b.LogIndex
}
