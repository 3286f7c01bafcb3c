package alerts

import (
	"context"
	"encoding/json"
	"io"
	"mime/quotedprintable"
	"net"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/socialrecovery/recovery-node/recoveryNode/config"
	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
)

func TestMain(m *testing.M) {
	challengeCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func TestChallenge(t *testing.T) {
	plain, hash, err := GenerateChallenge("seed-1")
	require.NoError(t, err)
	assert.Len(t, plain, 6)

	assert.True(t, VerifyChallenge(plain, hash, "seed-1"))
	assert.False(t, VerifyChallenge(plain, hash, "seed-2"))
	assert.False(t, VerifyChallenge("xxxxxx", hash, "seed-1"))
}

func TestEmailChannel_Targets(t *testing.T) {
	ch := NewEmailChannel(nil)

	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"John.Doe@Example.com", "john.doe@example.com", true},
		{"  jo@example.com ", "jo@example.com", true},
		{"John <jo@example.com>", "", false},
		{"not-an-email", "", false},
	}
	for _, tt := range tests {
		got, ok := ch.SanitizeTarget(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	assert.Equal(t, "jo***@example.com", ch.MaskTarget("john.doe@example.com"))
	assert.Equal(t, "a***@example.com", ch.MaskTarget("a@example.com"))
}

func TestSMSChannel_Targets(t *testing.T) {
	ch := NewSMSChannel(nil)

	got, ok := ch.SanitizeTarget("+1 (555) 010-9999")
	require.True(t, ok)
	assert.Equal(t, "+15550109999", got)

	got, ok = ch.SanitizeTarget("447700900123")
	require.True(t, ok)
	assert.Equal(t, "+447700900123", got)

	_, ok = ch.SanitizeTarget("0123")
	assert.False(t, ok)
	_, ok = ch.SanitizeTarget("+1234567890123456")
	assert.False(t, ok)

	assert.Equal(t, "********9999", ch.MaskTarget("+15550109999"))
}

func TestWebhookTransport_SendsRenderedTemplate(t *testing.T) {
	var received webhookPayload
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ch := NewSMSChannel(NewWebhookTransport(config.WebhookConfig{Endpoint: server.URL, AuthorizationHeader: "Bearer t"}))
	err := ch.SendMessage(context.Background(), constant.TemplateOTPVerification, "+15550109999", map[string]string{"otp": "123456"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer t", auth)
	assert.Equal(t, "+15550109999", received.To)
	assert.Equal(t, "Your verification code for registering your account: 123456", received.Body)
	assert.False(t, received.HTML)
}

func TestWebhookTransport_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	ch := NewEmailChannel(NewWebhookTransport(config.WebhookConfig{Endpoint: server.URL}))
	err := ch.SendMessage(context.Background(), constant.TemplateNotification, "jo@example.com", map[string]string{"header": "h", "body": "b"})
	assert.ErrorContains(t, err, "502")

	err = ch.SendMessage(context.Background(), "unknown", "jo@example.com", nil)
	assert.ErrorContains(t, err, "unknown template")
}

func TestTwilioTransport(t *testing.T) {
	var form url.Values
	var path, user string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		user, _, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	transport := newTwilioTransport(server.URL, config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+10000000000"})
	err := transport.Send(context.Background(), Message{To: "+15550109999", Body: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "/Accounts/AC1/Messages.json", path)
	assert.Equal(t, "AC1", user)
	assert.Equal(t, "+10000000000", form.Get("From"))
	assert.Equal(t, "hello", form.Get("Body"))
}

// smtpServer speaks just enough SMTP to accept one message per session.
type smtpServer struct {
	listener net.Listener
	mu       sync.Mutex
	mails    []string
}

func newSMTPServer(t *testing.T) *smtpServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &smtpServer{listener: l}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go srv.serve(conn)
		}
	}()
	return srv
}

func (s *smtpServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *smtpServer) serve(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		switch cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); cmd {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250 localhost")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.mails = append(s.mails, string(data))
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 ok")
		}
	}
}

func (s *smtpServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.mails...)
}

func TestSMTPTransport_Send(t *testing.T) {
	srv := newSMTPServer(t)
	transport := NewSMTPTransport(config.SMTPConfig{From: "alerts@example.com", Host: "127.0.0.1", Port: srv.port()})

	ch := NewEmailChannel(transport)
	err := ch.SendMessage(context.Background(), constant.TemplateOTPVerification, "jo@example.com", map[string]string{"otp": "654321"})
	require.NoError(t, err)

	mails := srv.received()
	require.Len(t, mails, 1)
	parsed, err := mail.ReadMessage(strings.NewReader(mails[0]))
	require.NoError(t, err)
	assert.Equal(t, "Verification code", parsed.Header.Get("Subject"))
	assert.Contains(t, parsed.Header.Get("From"), "alerts@example.com")
	assert.Contains(t, parsed.Header.Get("To"), "jo@example.com")
	assert.Contains(t, parsed.Header.Get("Content-Type"), "text/html")

	var body io.Reader = parsed.Body
	if strings.EqualFold(parsed.Header.Get("Content-Transfer-Encoding"), "quoted-printable") {
		body = quotedprintable.NewReader(body)
	}
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "654321")
}

func TestSMTPTransport_SilentServerHonoursDeadline(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		select {
		case conn := <-accepted:
			_ = conn.Close()
		default:
		}
	})

	transport := NewSMTPTransport(config.SMTPConfig{
		From: "alerts@example.com",
		Host: "127.0.0.1",
		Port: l.Addr().(*net.TCPAddr).Port,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	err = transport.Send(ctx, Message{To: "jo@example.com", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestRegistryFromConfig(t *testing.T) {
	r, err := NewRegistryFromConfig([]config.AlertConfig{
		{
			ID: "main",
			Channels: config.AlertChannelsConfig{
				Email: &config.EmailChannelConfig{Webhook: &config.WebhookConfig{Endpoint: "http://localhost"}},
				SMS:   &config.SMSChannelConfig{Twilio: &config.TwilioConfig{AccountSID: "AC"}},
			},
		},
	})
	require.NoError(t, err)

	email, ok := r.Channel("main", ChannelEmail)
	require.True(t, ok)
	assert.Equal(t, ChannelEmail, email.Name())
	assert.Len(t, r.Group("main"), 2)

	_, ok = r.Channel("other", ChannelEmail)
	assert.False(t, ok)

	_, err = NewRegistryFromConfig([]config.AlertConfig{{ID: "x", Channels: config.AlertChannelsConfig{Email: &config.EmailChannelConfig{}}}})
	assert.Error(t, err)
}
