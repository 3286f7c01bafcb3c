package alerts

import (
	"context"
	"net/mail"
	"strings"
)

// EmailChannel sends challenges and notifications by email.
type EmailChannel struct {
	baseChannel
}

// NewEmailChannel creates an email channel over transport.
func NewEmailChannel(transport Transport) *EmailChannel {
	return &EmailChannel{baseChannel{transport: transport, templates: emailTemplates()}}
}

func (c *EmailChannel) Name() string { return ChannelEmail }

// SanitizeTarget accepts a bare RFC 5322 address and lowercases it.
func (c *EmailChannel) SanitizeTarget(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || addr.Address != raw {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

// MaskTarget keeps the first two characters of the local part.
func (c *EmailChannel) MaskTarget(target string) string {
	local, domain, ok := strings.Cut(target, "@")
	if !ok {
		return "***"
	}
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "***@" + domain
}

func (c *EmailChannel) SendMessage(ctx context.Context, template, target string, vars map[string]string) error {
	return c.send(ctx, template, target, vars)
}
