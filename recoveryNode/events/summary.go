package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Summary is the notification content derived from one account's buffered events.
type Summary struct {
	Header         string   `json:"header"`
	Critical       string   `json:"critical,omitempty"`
	AccountChanges []string `json:"accountChanges,omitempty"`
}

// TemplateVars flattens the summary for the notification template.
func (s Summary) TemplateVars() map[string]string {
	parts := make([]string, 0, len(s.AccountChanges)+1)
	if s.Critical != "" {
		parts = append(parts, s.Critical)
	}
	parts = append(parts, s.AccountChanges...)
	return map[string]string{
		"subject": "Social Recovery security alert",
		"header":  s.Header,
		"body":    strings.Join(parts, "\n\n"),
	}
}

var titleCaser = cases.Title(language.English)

// displayName turns a config key such as "base_sepolia" into "Base Sepolia".
func displayName(name string) string {
	return titleCaser.String(strings.NewReplacer("_", " ", "-", " ").Replace(name))
}

// EventSummary summarises the buffered events of account on chainID, or returns nil when there are none.
func (t *Tracker) EventSummary(ctx context.Context, account string, chainID uint64) (*Summary, error) {
	events := t.EventsForAccount(account, chainID)
	if len(events) == 0 {
		return nil, nil
	}

	n, ok := t.networks.Get(chainID)
	if !ok {
		return nil, fmt.Errorf("no network for chain %d", chainID)
	}

	summary := &Summary{
		Header: fmt.Sprintf("Security: Changes have been made to your social recovery settings for account %s on %s (chainId: %d)",
			strings.ToLower(account), displayName(n.Name), n.ChainID),
	}

	var latestRecovery *Event
	for i := range events {
		switch events[i].Kind() {
		case KindRecoveryExecuted, KindRecoveryFinalized, KindRecoveryCanceled:
			latestRecovery = &events[i]
		}
	}
	if latestRecovery != nil {
		summary.Critical = criticalBlock(*latestRecovery)
	}

	var changes []string
	if net := netGuardianChange(events); net != 0 {
		verb, count := "Added", net
		if net < 0 {
			verb, count = "Removed", -net
		}
		plural := "s"
		if count == 1 {
			plural = ""
		}
		changes = append(changes, fmt.Sprintf("%s %d guardian%s", verb, count, plural))
	}
	if threshold := latestThreshold(events); threshold != nil {
		changes = append(changes, "Threshold: "+threshold.Dec())
	}

	guardians, err := n.Contracts.Guardians(ctx, ethcommon.HexToAddress(account))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch guardians: %w", err)
	}
	listed := make([]string, len(guardians))
	for i, g := range guardians {
		listed[i] = g.Hex()
	}
	changes = append(changes, "Current Guardians:\n"+strings.Join(listed, "\n"))

	summary.AccountChanges = changes
	return summary, nil
}

func criticalBlock(e Event) string {
	location := fmt.Sprintf("Block: %d, Tx Hash: %s", e.BlockNumber, e.TransactionHash)
	switch p := e.Payload.(type) {
	case RecoveryExecuted:
		return fmt.Sprintf("RECOVERY EXECUTED\nNew Threshold: %s\nNonce: %s\nExecute After: %s\nGuardian Approvals: %s\n%s",
			dec(p.NewThreshold), dec(p.Nonce),
			time.Unix(int64(p.ExecuteAfter), 0).UTC().Format(time.RFC3339),
			dec(p.GuardiansApprovalCount), location)
	case RecoveryFinalized:
		return fmt.Sprintf("RECOVERY FINALIZED\nNew Threshold: %s\nNonce: %s\n%s", dec(p.NewThreshold), dec(p.Nonce), location)
	case RecoveryCanceled:
		return fmt.Sprintf("RECOVERY CANCELED\nNonce: %s\n%s", dec(p.Nonce), location)
	}
	return ""
}

// netGuardianChange folds adds and revokes: each one cancels a pending opposite
// change of the same guardian.
func netGuardianChange(events []Event) int {
	added := make(map[string]struct{})
	revoked := make(map[string]struct{})
	for _, e := range events {
		switch p := e.Payload.(type) {
		case GuardianAdded:
			g := strings.ToLower(p.Guardian)
			if _, ok := revoked[g]; ok {
				delete(revoked, g)
			} else {
				added[g] = struct{}{}
			}
		case GuardianRevoked:
			g := strings.ToLower(p.Guardian)
			if _, ok := added[g]; ok {
				delete(added, g)
			} else {
				revoked[g] = struct{}{}
			}
		}
	}
	return len(added) - len(revoked)
}

func latestThreshold(events []Event) *uint256.Int {
	var latest *uint256.Int
	for _, e := range events {
		if p, ok := e.Payload.(ChangedThreshold); ok {
			latest = p.NewThreshold
		}
	}
	return latest
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
