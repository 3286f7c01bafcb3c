package events

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/socialrecovery/recovery-node/recoveryNode/network"
	"github.com/socialrecovery/recovery-node/recoveryNode/store"
)

// Subscription routes summaries of one account to a channel target.
type Subscription struct {
	ID      string
	Channel string
	Target  string
}

// Tracker buffers events between indexer flushes and keeps the active
// alert subscriptions in memory.
type Tracker struct {
	networks *network.Registry
	logger   zerolog.Logger

	mu            sync.RWMutex
	events        map[string]map[uint64][]Event
	subscriptions map[string][]Subscription
}

// NewTracker creates an empty tracker.
func NewTracker(networks *network.Registry, logger zerolog.Logger) *Tracker {
	return &Tracker{
		networks:      networks,
		logger:        logger.With().Str("component", "event_tracker").Logger(),
		events:        make(map[string]map[uint64][]Event),
		subscriptions: make(map[string][]Subscription),
	}
}

// AddEvent buffers e under its account and chain.
func (t *Tracker) AddEvent(e Event) {
	account := strings.ToLower(e.Account)
	e.Account = account

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events[account] == nil {
		t.events[account] = make(map[uint64][]Event)
	}
	t.events[account][e.ChainID] = append(t.events[account][e.ChainID], e)
}

// EventsForAccount returns a sorted copy of the buffered events.
func (t *Tracker) EventsForAccount(account string, chainID uint64) []Event {
	t.mu.RLock()
	buffered := t.events[strings.ToLower(account)][chainID]
	out := make([]Event, len(buffered))
	copy(out, buffered)
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// Accounts lists accounts with buffered events on chainID.
func (t *Tracker) Accounts(chainID uint64) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var accounts []string
	for account, chains := range t.events {
		if len(chains[chainID]) > 0 {
			accounts = append(accounts, account)
		}
	}
	sort.Strings(accounts)
	return accounts
}

// ClearEventsForAccount drops every buffered event of account on chainID.
func (t *Tracker) ClearEventsForAccount(account string, chainID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLocked(strings.ToLower(account), chainID, nil)
}

// RemoveEvents drops exactly the given events, keeping anything appended since they were read.
func (t *Tracker) RemoveEvents(account string, chainID uint64, removed []Event) {
	keys := make(map[string]struct{}, len(removed))
	for _, e := range removed {
		keys[e.Key()] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLocked(strings.ToLower(account), chainID, keys)
}

// dropLocked removes events whose key is in keys, or all of them when keys is nil.
func (t *Tracker) dropLocked(account string, chainID uint64, keys map[string]struct{}) {
	chains, ok := t.events[account]
	if !ok {
		return
	}
	var kept []Event
	if keys != nil {
		for _, e := range chains[chainID] {
			if _, drop := keys[e.Key()]; !drop {
				kept = append(kept, e)
			}
		}
	}
	if len(kept) == 0 {
		delete(chains, chainID)
	} else {
		chains[chainID] = kept
	}
	if len(chains) == 0 {
		delete(t.events, account)
	}
}

// LoadSubscriptions registers every active subscription stored in db.
func (t *Tracker) LoadSubscriptions(db *gorm.DB) error {
	var rows []store.AlertSubscription
	if err := db.Where("active = ?", true).Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		t.AddSubscription(row.Account, row.ID, row.Channel, row.Target)
	}
	t.logger.Info().Int("subscriptions", len(rows)).Msg("loaded alert subscriptions")
	return nil
}

// AddSubscription registers a subscription for account.
func (t *Tracker) AddSubscription(account, subscriptionID, channel, target string) {
	account = strings.ToLower(account)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subscriptions[account] {
		if s.ID == subscriptionID {
			return
		}
	}
	t.subscriptions[account] = append(t.subscriptions[account], Subscription{ID: subscriptionID, Channel: channel, Target: target})
}

// RemoveSubscription unregisters subscriptionID from account.
func (t *Tracker) RemoveSubscription(account, subscriptionID string) {
	account = strings.ToLower(account)
	t.mu.Lock()
	defer t.mu.Unlock()

	subs := t.subscriptions[account]
	kept := subs[:0]
	for _, s := range subs {
		if s.ID != subscriptionID {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(t.subscriptions, account)
		return
	}
	t.subscriptions[account] = kept
}

// Subscriptions returns a copy of the subscriptions of account.
func (t *Tracker) Subscriptions(account string) []Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	subs := t.subscriptions[strings.ToLower(account)]
	out := make([]Subscription, len(subs))
	copy(out, subs)
	return out
}
