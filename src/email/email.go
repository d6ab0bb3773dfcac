// Package email sends mail over SMTP. No SMTP configured means no
// emails: the service reports not ready and callers skip the channel.
package email

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Config holds SMTP server configuration
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// Message is one outbound email. HTML is required; Text is an optional
// plain-text alternative.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Service handles email sending
type Service struct {
	enabled bool
	config  Config
}

// New creates a new email service. SMTP reachability is checked once at
// startup; an unreachable or missing server disables the channel.
func New(cfg Config) *Service {
	svc := &Service{
		config:  cfg,
		enabled: false,
	}

	if cfg.Host != "" && cfg.Port > 0 {
		if err := svc.validateSMTP(); err == nil {
			svc.enabled = true
		}
	}

	return svc
}

// Ready returns whether email functionality is available
func (s *Service) Ready() bool {
	return s.enabled
}

// Reconfigure swaps the SMTP configuration and re-validates it
func (s *Service) Reconfigure(cfg Config) {
	s.config = cfg
	s.enabled = false
	if cfg.Host != "" && cfg.Port > 0 {
		if err := s.validateSMTP(); err == nil {
			s.enabled = true
		}
	}
}

// validateSMTP checks if the SMTP server is reachable
func (s *Service) validateSMTP() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("SMTP connection failed: %w", err)
	}
	defer conn.Close()

	if s.config.TLS {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName: s.config.Host,
		})
		if err := tlsConn.Handshake(); err != nil {
			return fmt.Errorf("SMTP TLS handshake failed: %w", err)
		}
	}

	return nil
}

// Send sends an email. Multi-recipient messages go out as a single send.
func (s *Service) Send(msg Message) error {
	if !s.enabled {
		return fmt.Errorf("email disabled: SMTP not configured")
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("no recipients")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	raw := BuildMessage(from, msg)

	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	if err := smtp.SendMail(addr, auth, s.config.From, msg.To, []byte(raw)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// BuildMessage assembles an RFC 5322 message. When both HTML and Text
// bodies are present it emits a multipart/alternative message.
func BuildMessage(from string, msg Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ","))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.Text != "" && msg.HTML != "" {
		boundary := "pharmacy-alt-boundary"
		fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Text)
		b.WriteString("\r\n")

		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTML)
		b.WriteString("\r\n")

		fmt.Fprintf(&b, "--%s--\r\n", boundary)
		return b.String()
	}

	if msg.HTML != "" {
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTML)
		return b.String()
	}

	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Text)
	return b.String()
}
