package smtpserver

import (
	"bufio"
	"bytes"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net"
	nettextproto "net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.io/infrasutra/tempmail/internal/ingest"
)

const (
	defaultDomain = "tempmail"
)

type Config struct {
	Addr            string
	Domain          string
	MaxMessageBytes int64
	MaxRecipients   int
	AuthEnabled     bool
	Username        string
	Password        string
}

// Hook is the ingestion side of a completed transaction.
type Hook interface {
	Complete(tx ingest.Transaction)
	Queue(tx ingest.Transaction) ingest.Verdict
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(hook Hook, logger *slog.Logger, cfg Config) *Server {
	backend := &backend{
		hook:   hook,
		logger: logger,
		cfg:    cfg,
	}
	server := smtp.NewServer(backend)
	server.Addr = cfg.Addr
	server.Domain = cfg.Domain
	if server.Domain == "" {
		server.Domain = defaultDomain
	}
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	if cfg.MaxRecipients > 0 {
		server.MaxRecipients = cfg.MaxRecipients
	}
	server.MaxMessageBytes = 25 << 20
	if cfg.MaxMessageBytes > 0 {
		server.MaxMessageBytes = cfg.MaxMessageBytes
	}

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp server listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

func (s *Server) Serve(l net.Listener) error {
	return s.smtp.Serve(l)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	hook   Hook
	logger *slog.Logger
	cfg    Config
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.cfg.AuthEnabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.cfg.AuthEnabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.cfg.Username && checkPassword(s.backend.cfg.Password, password) {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

// checkPassword accepts either a bcrypt hash or a plain secret as the
// configured password.
func checkPassword(configured, given string) bool {
	if strings.HasPrefix(configured, "$2a$") || strings.HasPrefix(configured, "$2b$") || strings.HasPrefix(configured, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(given)) == 1
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.cfg.AuthEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.cfg.AuthEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.to = append(s.to, to)
	return nil
}

// Data never fails the exchange: read and parse problems are logged and
// the message is acknowledged regardless.
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.backend.logger.Error("read smtp data", "from", s.from, "error", err)
		return nil
	}

	tx := buildTransaction(s.from, s.to, raw, s.backend.logger)
	s.backend.hook.Complete(tx)

	if s.backend.hook.Queue(tx) != ingest.Accepted {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "message not queued",
		}
	}
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

func buildTransaction(from string, to []string, raw []byte, logger *slog.Logger) ingest.Transaction {
	tx := ingest.Transaction{
		ID:         uuid.NewString(),
		Sender:     from,
		Recipients: append([]string(nil), to...),
		Headers:    map[string][]string{},
		Raw:        raw,
	}

	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		logger.Warn("parse smtp headers", "transaction", tx.ID, "error", err)
		return tx
	}
	decoded := mail.Header{}
	decoded.Header.Header = header

	fields := decoded.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		key := nettextproto.CanonicalMIMEHeaderKey(fields.Key())
		tx.Headers[key] = append(tx.Headers[key], value)
	}
	subject, err := decoded.Subject()
	if err != nil {
		logger.Debug("decode subject", "transaction", tx.ID, "error", err)
		subject = decoded.Get("Subject")
	}
	tx.Subject = subject
	return tx
}
