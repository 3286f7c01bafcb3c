package alerts

import (
	"fmt"

	"github.com/socialrecovery/recovery-node/recoveryNode/config"
)

// Registry maps alert group id to its channels by name.
type Registry struct {
	groups map[string]map[string]Channel
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]map[string]Channel)}
}

// Add registers ch in group, replacing a channel with the same name.
func (r *Registry) Add(group string, ch Channel) {
	if r.groups[group] == nil {
		r.groups[group] = make(map[string]Channel)
	}
	r.groups[group][ch.Name()] = ch
}

// Channel returns the named channel of group.
func (r *Registry) Channel(group, name string) (Channel, bool) {
	ch, ok := r.groups[group][name]
	return ch, ok
}

// Group returns every channel of group keyed by name.
func (r *Registry) Group(group string) map[string]Channel {
	return r.groups[group]
}

// NewRegistryFromConfig builds channels and their transports for every alert group.
func NewRegistryFromConfig(cfgs []config.AlertConfig) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range cfgs {
		if email := cfg.Channels.Email; email != nil {
			switch {
			case email.SMTP != nil:
				r.Add(cfg.ID, NewEmailChannel(NewSMTPTransport(*email.SMTP)))
			case email.Webhook != nil:
				r.Add(cfg.ID, NewEmailChannel(NewWebhookTransport(*email.Webhook)))
			default:
				return nil, fmt.Errorf("alert %s: email channel has no transport", cfg.ID)
			}
		}
		if sms := cfg.Channels.SMS; sms != nil {
			switch {
			case sms.Twilio != nil:
				r.Add(cfg.ID, NewSMSChannel(NewTwilioTransport(*sms.Twilio)))
			case sms.Webhook != nil:
				r.Add(cfg.ID, NewSMSChannel(NewWebhookTransport(*sms.Webhook)))
			default:
				return nil, fmt.Errorf("alert %s: sms channel has no transport", cfg.ID)
			}
		}
	}
	return r, nil
}
