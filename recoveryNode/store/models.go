// Package store contains GORM-backed SQLite models used by the recovery node.
//
// Database Structure (database file: recovery.db):
//
//	databases/
//	└── recovery.db
//	    ├── recovery_requests
//	    ├── indexer_checkpoints
//	    ├── guardian_added_events, guardian_revoked_events, threshold_changed_events
//	    ├── recovery_executed_events, recovery_finalized_events, recovery_canceled_events
//	    ├── auth_registration_requests, auth_registrations
//	    ├── signature_requests, challenge_verifications
//	    └── alert_subscriptions, alert_notifications
package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recovery request statuses. Status only moves forward except when a
// sponsored transaction fails, which reverts it by one step.
const (
	StatusPending                = "PENDING"
	StatusExecutionInProgress    = "EXECUTION_IN_PROGRESS"
	StatusExecuted               = "EXECUTED"
	StatusFinalizationInProgress = "FINALIZATION_IN_PROGRESS"
	StatusFinalized              = "FINALIZED"
)

// Notification delivery statuses.
const (
	DeliveryPending = "PENDING"
	DeliverySending = "SENDING"
	DeliverySent    = "SENT"
	DeliveryFailed  = "FAILED"
)

// RecoverySignature is one guardian approval of a recovery hash.
type RecoverySignature struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// Sponsorship records the service paying for one on-chain step of a recovery.
type Sponsorship struct {
	Sponsored       bool
	TransactionHash string
	SponsoredAt     *time.Time `gorm:"index"`
}

// RecoveryRequest is an owner's proposal to replace the owners and threshold
// of a wallet, together with the guardian signatures collected for it.
type RecoveryRequest struct {
	ID           string `gorm:"primaryKey;size:36"`
	Emoji        string
	Account      string              `gorm:"index:idx_recovery_account_chain;not null"`
	ChainID      uint64              `gorm:"index:idx_recovery_account_chain;not null"`
	NewOwners    []string            `gorm:"serializer:json"`
	NewThreshold uint64              `gorm:"not null"`
	Nonce        BigUint             `gorm:"type:text;not null"` // on-chain recovery nonce at creation time
	Signatures   []RecoverySignature `gorm:"serializer:json"`    // sorted ascending by signer
	Execute      Sponsorship         `gorm:"embedded;embeddedPrefix:execute_"`
	Finalize     Sponsorship         `gorm:"embedded;embeddedPrefix:finalize_"`
	Status       string              `gorm:"index;not null"`
	Discoverable bool                `gorm:"index"`
	CreatedAt    time.Time           `gorm:"index"`
	UpdatedAt    time.Time
}

func (r *RecoveryRequest) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// HasSigner reports whether signer already approved the request.
func (r *RecoveryRequest) HasSigner(signer string) bool {
	for _, sig := range r.Signatures {
		if strings.EqualFold(sig.Signer, signer) {
			return true
		}
	}
	return false
}

// IndexerCheckpoint tracks the last block whose events were persisted for a chain.
type IndexerCheckpoint struct {
	ChainID            uint64 `gorm:"primaryKey;autoIncrement:false"`
	LatestIndexedBlock uint64
	Active             bool
	UpdatedAt          time.Time
}

// EventRecord holds the fields shared by every indexed event table.
// EventKey is chainId:txHash:logIndex and makes re-persisting idempotent.
type EventRecord struct {
	ID               uint   `gorm:"primaryKey"`
	EventKey         string `gorm:"uniqueIndex;not null"`
	ChainID          uint64 `gorm:"index;not null"`
	Account          string `gorm:"index;not null"`
	BlockNumber      uint64 `gorm:"index"`
	TransactionIndex uint
	LogIndex         uint
	TransactionHash  string
	CreatedAt        time.Time
}

type GuardianAddedEvent struct {
	EventRecord `gorm:"embedded"`
	Guardian    string `gorm:"index"`
}

type GuardianRevokedEvent struct {
	EventRecord `gorm:"embedded"`
	Guardian    string `gorm:"index"`
}

type ThresholdChangedEvent struct {
	EventRecord  `gorm:"embedded"`
	NewThreshold BigUint `gorm:"type:text"`
}

type RecoveryExecutedEvent struct {
	EventRecord            `gorm:"embedded"`
	NewThreshold           BigUint `gorm:"type:text"`
	Nonce                  BigUint `gorm:"type:text"`
	ExecuteAfter           uint64
	GuardiansApprovalCount BigUint `gorm:"type:text"`
}

type RecoveryFinalizedEvent struct {
	EventRecord  `gorm:"embedded"`
	NewThreshold BigUint `gorm:"type:text"`
	Nonce        BigUint `gorm:"type:text"`
}

type RecoveryCanceledEvent struct {
	EventRecord `gorm:"embedded"`
	Nonce       BigUint `gorm:"type:text"`
}

// AuthRegistrationRequest is a pending proof of control over a channel target.
type AuthRegistrationRequest struct {
	ID            string `gorm:"primaryKey;size:36"`
	Account       string `gorm:"index;not null"`
	ChainID       uint64 `gorm:"not null"`
	Channel       string `gorm:"not null"`
	Target        string `gorm:"not null"`
	ChallengeHash string `gorm:"not null"`
	Verified      bool
	VerifiedAt    *time.Time
	Tries         int
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

func (r *AuthRegistrationRequest) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// AuthRegistration binds a verified channel target to an account for guardian sign-off.
type AuthRegistration struct {
	ID        string `gorm:"primaryKey;size:36"`
	Account   string `gorm:"index:idx_registration_account_chain;not null"`
	ChainID   uint64 `gorm:"index:idx_registration_account_chain;not null"`
	Channel   string `gorm:"not null"`
	Target    string `gorm:"not null"`
	Guardian  string
	CreatedAt time.Time
}

func (r *AuthRegistration) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// SignatureRequest aggregates the challenge verifications that gate one
// automated guardian signature.
type SignatureRequest struct {
	ID                    string   `gorm:"primaryKey;size:36"`
	Account               string   `gorm:"index;not null"`
	ChainID               uint64   `gorm:"not null"`
	NewOwners             []string `gorm:"serializer:json"`
	NewThreshold          uint64
	Nonce                 BigUint `gorm:"type:text"`
	RequiredVerifications int
	Guardian              string
	Signature             string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (r *SignatureRequest) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// ChallengeVerification is one OTP challenge issued for a SignatureRequest.
type ChallengeVerification struct {
	ID                 string `gorm:"primaryKey;size:36"`
	SignatureRequestID string `gorm:"index;not null"`
	Channel            string `gorm:"not null"`
	Target             string `gorm:"not null"`
	ChallengeHash      string `gorm:"not null"`
	Verified           bool
	VerifiedAt         *time.Time
	Tries              int
	ExpiresAt          time.Time
	CreatedAt          time.Time
}

func (c *ChallengeVerification) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

// AlertSubscription routes indexer summaries for an account to a channel target.
type AlertSubscription struct {
	ID            string `gorm:"primaryKey;size:36"`
	Account       string `gorm:"index;not null"`
	Channel       string `gorm:"not null"`
	Target        string `gorm:"not null"`
	Active        bool   `gorm:"index"`
	ChallengeHash string
	Verified      bool
	VerifiedAt    *time.Time
	Tries         int
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

func (s *AlertSubscription) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}

// AlertNotification is an outbox row delivered by the notification job.
type AlertNotification struct {
	ID             string `gorm:"primaryKey;size:36"`
	SubscriptionID string `gorm:"index"`
	Account        string `gorm:"index;not null"`
	Channel        string `gorm:"not null"`
	Target         string `gorm:"not null"`
	Message        string `gorm:"type:text"` // JSON-encoded summary
	FailedReason   string `gorm:"type:text"`
	DeliveryStatus string `gorm:"index;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (n *AlertNotification) BeforeCreate(*gorm.DB) error {
	assignID(&n.ID)
	return nil
}

func assignID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
