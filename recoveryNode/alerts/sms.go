package alerts

import (
	"context"
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// SMSChannel sends challenges and notifications by text message.
type SMSChannel struct {
	baseChannel
}

// NewSMSChannel creates an sms channel over transport.
func NewSMSChannel(transport Transport) *SMSChannel {
	return &SMSChannel{baseChannel{transport: transport, templates: smsTemplates()}}
}

func (c *SMSChannel) Name() string { return ChannelSMS }

// SanitizeTarget strips formatting and returns an E.164 number with a leading +.
func (c *SMSChannel) SanitizeTarget(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if !e164Pattern.MatchString(cleaned) {
		return "", false
	}
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	return cleaned, true
}

// MaskTarget hides all but the last four digits.
func (c *SMSChannel) MaskTarget(target string) string {
	if len(target) <= 4 {
		return strings.Repeat("*", len(target))
	}
	return strings.Repeat("*", len(target)-4) + target[len(target)-4:]
}

func (c *SMSChannel) SendMessage(ctx context.Context, template, target string, vars map[string]string) error {
	return c.send(ctx, template, target, vars)
}
