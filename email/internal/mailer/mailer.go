package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Message - письмо с HTML и текстовой версией.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type SMTPSender struct {
	config SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	log    *logrus.Entry
}

func NewSMTPSender(config SMTPConfig, log *logrus.Entry) *SMTPSender {
	return &SMTPSender{
		config: config,
		send:   smtp.SendMail,
		log:    log,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	raw, err := Build(s.config.From, s.config.FromName, msg)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	if err := s.send(addr, auth, s.config.From, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.log.WithFields(logrus.Fields{"to": msg.To, "subject": msg.Subject}).Info("Email sent")
	return nil
}

var tags = regexp.MustCompile(`<[^>]*>`)

// PlainText грубо снимает разметку для текстовой версии письма
func PlainText(html string) string {
	lines := strings.Split(tags.ReplaceAllString(html, ""), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Build собирает multipart/alternative письмо.
func Build(from, fromName string, msg Message) ([]byte, error) {
	text := msg.Text
	if text == "" {
		text = PlainText(msg.HTML)
	}

	var body bytes.Buffer
	parts := multipart.NewWriter(&body)
	for _, part := range []struct{ contentType, content string }{
		{"text/plain; charset=UTF-8", text},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		w, err := parts.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := parts.Close(); err != nil {
		return nil, err
	}

	sender := (&mail.Address{Name: fromName, Address: from}).String()
	var out bytes.Buffer
	header := []string{
		"From: " + sender,
		"To: " + msg.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + time.Now().Format(time.RFC1123Z),
		"Message-ID: <" + uuid.NewString() + "@" + domain(from) + ">",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + parts.Boundary(),
	}
	for _, line := range header {
		out.WriteString(line + "\r\n")
	}
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func domain(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[i+1:]
	}
	return "localhost"
}

// LogSender только пишет письмо в лог. Используется, когда SMTP не настроен.
type LogSender struct {
	log *logrus.Entry
}

func NewLogSender(log *logrus.Entry) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.WithFields(logrus.Fields{"to": msg.To, "subject": msg.Subject}).Warn("SMTP not configured, email logged only")
	return nil
}
