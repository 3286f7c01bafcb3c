// Package alertstest provides an in-memory alert channel for tests.
package alertstest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/socialrecovery/recovery-node/recoveryNode/alerts"
)

// Sent is one message accepted by a Channel.
type Sent struct {
	Template string
	Target   string
	Vars     map[string]string
}

// Channel records messages instead of delivering them. Targets must contain
// an "@" for the email channel and start with "+" otherwise. Challenges are
// sequential six digit codes.
type Channel struct {
	name string

	mu      sync.Mutex
	sent    []Sent
	counter int
	sendErr error
}

var _ alerts.Channel = (*Channel)(nil)

// NewChannel creates a recording channel called name.
func NewChannel(name string) *Channel {
	return &Channel{name: name}
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) SanitizeTarget(raw string) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if c.name == alerts.ChannelEmail {
		return raw, strings.Contains(raw, "@")
	}
	return raw, strings.HasPrefix(raw, "+")
}

func (c *Channel) MaskTarget(target string) string {
	if len(target) <= 4 {
		return target
	}
	return "***" + target[len(target)-4:]
}

func (c *Channel) GenerateChallenge(seed string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	plain := fmt.Sprintf("%06d", c.counter)
	return plain, seed + ":" + plain, nil
}

func (c *Channel) VerifyChallenge(plain, hash, seed string) bool {
	return hash == seed+":"+plain
}

func (c *Channel) SendMessage(_ context.Context, template, target string, vars map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	c.sent = append(c.sent, Sent{Template: template, Target: target, Vars: copied})
	return nil
}

func (c *Channel) HealthCheck(context.Context) error { return nil }

// FailSends makes every following SendMessage return err. A nil err restores delivery.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Messages returns a copy of everything sent so far.
func (c *Channel) Messages() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// LastOTP returns the most recent one-time code sent to target.
func (c *Channel) LastOTP(target string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Target == target {
			if otp, ok := c.sent[i].Vars["otp"]; ok {
				return otp
			}
		}
	}
	return ""
}
