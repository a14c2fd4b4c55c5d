package mail

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/nikhilbhutani/agroplatform/internal/config"
)

type capture struct {
	addr string
	to   []string
	body string
}

func newTestSender(c *capture) *SMTPSender {
	s := NewSMTPSender(config.MailConfig{SMTPHost: "mail.local", SMTPPort: 2525, From: "no-reply@agro.test"})
	s.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		c.addr, c.to, c.body = addr, to, string(msg)
		return nil
	}
	return s
}

func TestSendPlain(t *testing.T) {
	var c capture
	s := newTestSender(&c)
	err := s.Send(context.Background(), Message{To: "a@example.com", Subject: "Reset", Text: "link"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.addr != "mail.local:2525" {
		t.Fatalf("addr = %q", c.addr)
	}
	if len(c.to) != 1 || c.to[0] != "a@example.com" {
		t.Fatalf("to = %v", c.to)
	}
	if !strings.Contains(c.body, "Subject: Reset\r\n") || !strings.HasSuffix(c.body, "link") {
		t.Fatalf("unexpected body %q", c.body)
	}
}

func TestSendMultipart(t *testing.T) {
	var c capture
	s := newTestSender(&c)
	err := s.Send(context.Background(), Message{To: "a@example.com", Subject: "Invite", Text: "plain", HTML: "<p>html</p>"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(c.body, "multipart/alternative") || !strings.Contains(c.body, "<p>html</p>") {
		t.Fatalf("unexpected body %q", c.body)
	}
}

func TestSendRejectsHeaderInjection(t *testing.T) {
	var c capture
	s := newTestSender(&c)
	err := s.Send(context.Background(), Message{To: "a@example.com\r\nBcc: x@evil.test", Subject: "x"})
	if err == nil {
		t.Fatalf("expected injection to be rejected")
	}
	if c.body != "" {
		t.Fatalf("message was sent")
	}
}
