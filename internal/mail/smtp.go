package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/nikhilbhutani/agroplatform/internal/config"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers synchronously. The API never calls it directly; the
// worker does, after a message was queued.
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
	send sendFunc
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &SMTPSender{
		addr: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		from: cfg.From,
		auth: auth,
		send: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := s.compose(msg)
	if err != nil {
		return err
	}
	if err := s.send(s.addr, s.auth, s.from, []string{msg.To}, body); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) compose(msg Message) ([]byte, error) {
	if strings.ContainsAny(msg.To+msg.Subject, "\r\n") {
		return nil, fmt.Errorf("header injection in message to %q", msg.To)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", s.from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTML == "" {
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.Text)
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	for _, part := range []struct{ ctype, body string }{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mime body: %w", err)
	}
	return buf.Bytes(), nil
}
