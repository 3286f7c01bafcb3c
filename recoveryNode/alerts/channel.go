// Package alerts delivers one-time challenges and notifications over email and SMS.
package alerts

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// Channel names.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// challengeCost is the bcrypt cost for challenge hashes.
var challengeCost = bcrypt.DefaultCost

// Channel is one way of reaching a user.
type Channel interface {
	Name() string
	// SanitizeTarget normalises raw into the canonical target, or reports it unusable.
	SanitizeTarget(raw string) (string, bool)
	MaskTarget(target string) string
	GenerateChallenge(seed string) (plain, hash string, err error)
	VerifyChallenge(plain, hash, seed string) bool
	SendMessage(ctx context.Context, template, target string, vars map[string]string) error
	HealthCheck(ctx context.Context) error
}

// Message is a rendered message handed to a transport.
type Message struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

// Transport moves a rendered message to a provider.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	HealthCheck(ctx context.Context) error
}

// GenerateChallenge returns a random 6-digit code and its bcrypt hash bound to seed.
func GenerateChallenge(seed string) (string, string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	plain := fmt.Sprintf("%06d", n.Int64())

	hash, err := bcrypt.GenerateFromPassword([]byte(seed+":"+plain), challengeCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash challenge: %w", err)
	}
	return plain, string(hash), nil
}

// VerifyChallenge checks plain against a hash produced by GenerateChallenge for seed.
func VerifyChallenge(plain, hash, seed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(seed+":"+plain)) == nil
}

// baseChannel carries what email and sms share.
type baseChannel struct {
	transport Transport
	templates map[string]messageTemplate
}

func (b *baseChannel) GenerateChallenge(seed string) (string, string, error) {
	return GenerateChallenge(seed)
}

func (b *baseChannel) VerifyChallenge(plain, hash, seed string) bool {
	return VerifyChallenge(plain, hash, seed)
}

func (b *baseChannel) send(ctx context.Context, name, target string, vars map[string]string) error {
	tmpl, ok := b.templates[name]
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}
	msg, err := tmpl.render(vars)
	if err != nil {
		return err
	}
	msg.To = target
	return b.transport.Send(ctx, msg)
}

func (b *baseChannel) HealthCheck(ctx context.Context) error {
	return b.transport.HealthCheck(ctx)
}
