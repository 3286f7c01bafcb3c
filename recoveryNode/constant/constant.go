package constant

import (
	"os"
	"time"
)

// <NodeDir>/                    (e.g., /home/recovery/.recoveryd)
// └── config/
//	└── recovery_config.json
// └── databases/
//	└── recovery.db

const (
	NodeDir = ".recoveryd"

	ConfigSubdir   = "config"
	ConfigFileName = "recovery_config.json"

	DatabasesSubdir  = "databases"
	DatabaseFileName = "recovery.db"
)

var DefaultNodeHome = os.ExpandEnv("$HOME/") + NodeDir

const (
	// ChallengeTTL bounds OTP challenges and pending verifications.
	ChallengeTTL = 10 * time.Minute

	// ChallengeMaxTries is the number of codes one challenge accepts before it must be reissued.
	ChallengeMaxTries = 5

	// AuthorizationWindow bounds how far a signed authorization timestamp may drift.
	AuthorizationWindow = 5 * time.Minute

	// RecoveryCreationCooldown is the minimum spacing between two requests for one account and chain.
	RecoveryCreationCooldown = 5 * time.Minute

	// RecoveryEmojiCount is the number of symbols in a request's visual fingerprint.
	RecoveryEmojiCount = 15
)

// Template identifiers understood by every alert channel.
const (
	TemplateOTPVerification = "otpVerification"
	TemplateNotification    = "notification"
)

// Statements embedded in signed authorization messages.
const (
	StatementAlertsSubscribe   = "I agree to receive Social Recovery Module alert notifications for my account address on all supported chains sent to {{target}} (via {{channel}})"
	StatementAlertsFetch       = "I request to retrieve all Social Recovery Module alert subscriptions linked to my account"
	StatementAlertsUnsubscribe = "I request to unsubscribe all Social Recovery Module alert subscriptions linked to my account"
)
