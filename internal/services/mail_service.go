package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/checkvibe/threatwatch/internal/logger"
)

// ErrMailNotConfigured is returned when no SMTP host is set.
var ErrMailNotConfigured = errors.New("SMTP not configured")

// Message is one outbound email. Headers are added verbatim after sanitising.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// Mailer delivers a Message. Implementations must honour ctx deadlines.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the SMTP server configuration.
type SMTPConfig struct {
	Host        string        `json:"host"`
	Port        int           `json:"port"`
	Username    string        `json:"username"`
	Password    string        `json:"password"`
	FromAddress string        `json:"from_address"`
	ReplyTo     string        `json:"reply_to"`
	Encryption  string        `json:"encryption"` // "none", "ssl", "starttls"
	Timeout     time.Duration `json:"timeout"`
}

// MailService sends emails via SMTP.
type MailService struct {
	config SMTPConfig
	now    func() time.Time
}

// NewMailService creates a new mail service instance.
func NewMailService(config SMTPConfig) *MailService {
	if config.Port == 0 {
		config.Port = 587
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &MailService{config: config, now: time.Now}
}

// IsConfigured returns true if SMTP is properly configured.
func (s *MailService) IsConfigured() bool {
	return s.config.Host != "" && s.config.FromAddress != ""
}

var headerControlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// sanitizeEmailHeader strips control characters so values cannot start new headers.
func sanitizeEmailHeader(v string) string {
	return headerControlChars.ReplaceAllString(v, "")
}

func validateEmailAddress(addr string) error {
	if addr == "" {
		return errors.New("email address is empty")
	}
	if headerControlChars.MatchString(addr) {
		return errors.New("email address contains control characters")
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return fmt.Errorf("invalid email address: %w", err)
	}
	return nil
}

// envelopeAddress returns the bare address for MAIL FROM / RCPT TO.
func envelopeAddress(addr string) string {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return addr
	}
	return parsed.Address
}

// Send delivers msg using the configured SMTP settings. The whole SMTP
// conversation is bounded by the configured timeout or ctx, whichever is sooner.
func (s *MailService) Send(ctx context.Context, msg Message) error {
	if s.config.Host == "" {
		return ErrMailNotConfigured
	}
	if err := validateEmailAddress(msg.To); err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	if err := validateEmailAddress(s.config.FromAddress); err != nil {
		return fmt.Errorf("sender: %w", err)
	}

	body, err := s.buildEmail(s.config.FromAddress, msg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	deadline := s.now().Add(s.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("SMTP connection failed: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set SMTP deadline: %w", err)
	}

	tlsConfig := &tls.Config{
		ServerName: s.config.Host,
		MinVersion: tls.VersionTLS12,
	}
	if s.config.Encryption == "ssl" {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if s.config.Encryption == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if s.config.Username != "" && s.config.Password != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := deliver(client, envelopeAddress(s.config.FromAddress), envelopeAddress(msg.To), body); err != nil {
		return err
	}

	logger.Log().WithField("to", msg.To).WithField("subject", sanitizeEmailHeader(msg.Subject)).Debug("email sent")
	return nil
}

func deliver(client *smtp.Client, from, to string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}

	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

// buildEmail constructs a multipart/alternative message with a text and an
// HTML part. Header values are stripped of control characters.
func (s *MailService) buildEmail(from string, msg Message) ([]byte, error) {
	var parts bytes.Buffer
	mw := multipart.NewWriter(&parts)

	if err := writePart(mw, "text/plain; charset=UTF-8", msg.Text); err != nil {
		return nil, err
	}
	if err := writePart(mw, "text/html; charset=UTF-8", msg.HTML); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var out bytes.Buffer
	writeHeader := func(key, value string) {
		fmt.Fprintf(&out, "%s: %s\r\n", key, sanitizeEmailHeader(value))
	}

	writeHeader("From", from)
	writeHeader("To", msg.To)
	if s.config.ReplyTo != "" {
		writeHeader("Reply-To", s.config.ReplyTo)
	}
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", sanitizeEmailHeader(msg.Subject)))
	writeHeader("Date", s.now().Format(time.RFC1123Z))

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(textproto.CanonicalMIMEHeaderKey(sanitizeEmailHeader(k)), msg.Headers[k])
	}

	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	out.WriteString("\r\n")
	out.Write(parts.Bytes())

	return out.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create mime part: %w", err)
	}
	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("write mime part: %w", err)
	}
	return qp.Close()
}
