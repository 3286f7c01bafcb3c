package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/socialrecovery/recovery-node/recoveryNode/config"
)

const httpTimeout = 15 * time.Second

// WebhookTransport posts every message as JSON to an endpoint.
type WebhookTransport struct {
	endpoint      string
	authorization string
	client        *http.Client
}

func NewWebhookTransport(cfg config.WebhookConfig) *WebhookTransport {
	return &WebhookTransport{
		endpoint:      cfg.Endpoint,
		authorization: cfg.AuthorizationHeader,
		client:        &http.Client{Timeout: httpTimeout},
	}
}

type webhookPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
	HTML    bool   `json:"html"`
}

func (w *WebhookTransport) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(webhookPayload(msg))
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.authorization != "" {
		req.Header.Set("Authorization", w.authorization)
	}
	return doRequest(w.client, req)
}

func (w *WebhookTransport) HealthCheck(ctx context.Context) error {
	u, err := url.Parse(w.endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid webhook endpoint %q", w.endpoint)
	}
	return nil
}

// TwilioTransport sends SMS through the Twilio Messages REST API.
type TwilioTransport struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

func NewTwilioTransport(cfg config.TwilioConfig) *TwilioTransport {
	return newTwilioTransport(twilioBaseURL, cfg)
}

func newTwilioTransport(baseURL string, cfg config.TwilioConfig) *TwilioTransport {
	return &TwilioTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

func (t *TwilioTransport) Send(ctx context.Context, msg Message) error {
	body := msg.Body
	if msg.Subject != "" {
		body = msg.Subject + "\n" + body
	}
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", t.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doRequest(t.client, req)
}

func (t *TwilioTransport) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s.json", t.baseURL, url.PathEscape(t.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	return doRequest(t.client, req)
}

func doRequest(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request to %s returned %d: %s", req.URL.Host, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// SMTPTransport delivers email over SMTP with PLAIN auth and opportunistic STARTTLS.
type SMTPTransport struct {
	cfg     config.SMTPConfig
	timeout time.Duration
}

func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg, timeout: httpTimeout}
}

// client builds a mail client whose every connection is bounded by ctx.
func (s *SMTPTransport) client(ctx context.Context) (*mail.Client, error) {
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(dialWithDeadline),
	}
	if s.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

// dialWithDeadline applies the dial context's deadline to the connection itself.
func dialWithDeadline(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (s *SMTPTransport) message(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", s.cfg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	contentType := mail.TypeTextPlain
	if msg.HTML {
		contentType = mail.TypeTextHTML
	}
	m.SetBodyString(contentType, msg.Body)
	return m, nil
}

func (s *SMTPTransport) Send(ctx context.Context, msg Message) error {
	m, err := s.message(msg)
	if err != nil {
		return err
	}
	client, err := s.client(ctx)
	if err != nil {
		return fmt.Errorf("smtp client setup failed: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// HealthCheck dials the server and completes the greeting.
func (s *SMTPTransport) HealthCheck(ctx context.Context) error {
	client, err := s.client(ctx)
	if err != nil {
		return fmt.Errorf("smtp client setup failed: %w", err)
	}
	if err := client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("smtp server unreachable: %w", err)
	}
	return client.Close()
}
