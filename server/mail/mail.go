// Package mail sends HTML e-mails over SMTP.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

const (
	PortSSL = 465
	PortTLS = 587
)

// SMTP authentication methods.
const (
	AuthMethodNone    = ""
	AuthMethodPlain   = "plain"
	AuthMethodLogin   = "login"
	AuthMethodCramMD5 = "cram-md5"
)

// SMTPSettings configures the connection to the SMTP server.
type SMTPSettings struct {
	Server         string
	Port           int
	Username       string
	Password       string
	AuthMethod     string
	EnableTLS      bool
	EnableStartTLS bool
	VerifySSLCerts bool
}

// Email is a message with an HTML body.
type Email struct {
	Subject string
	From    string
	To      []string
	HTML    []byte
}

// Service sends e-mails through an SMTP server.
type Service struct {
	settings SMTPSettings
}

// NewService returns a Service using the SMTP server of settings.
func NewService(settings SMTPSettings) *Service {
	return &Service{settings: settings}
}

func getMessageBody(e Email) []byte {
	subject := "Subject: " + mime.QEncoding.Encode("utf-8", e.Subject) + "\r\n"
	from := "From: " + e.From + "\r\n"
	to := "To: " + strings.Join(e.To, ", ") + "\r\n"
	mimeVersion := `MIME-version: 1.0;` + "\r\n"
	content := `Content-Type: text/html; charset="UTF-8";` + "\r\n"
	return []byte(subject + from + to + mimeVersion + content + "\r\n" + string(e.HTML) + "\r\n")
}

type loginauth struct {
	username string
	password string
	host     string
}

// LoginAuth returns an smtp.Auth that authenticates with the LOGIN mechanism.
func LoginAuth(username, password, host string) smtp.Auth {
	return &loginauth{username: username, password: password, host: host}
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}

func (l *loginauth) Start(server *smtp.ServerInfo) (proto string, toServer []byte, err error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("unencrypted connection")
	}

	if server.Name != l.host {
		return "", nil, errors.New("wrong host name")
	}

	return "LOGIN", nil, nil
}

func (l *loginauth) Next(fromServer []byte, more bool) (toServer []byte, err error) {
	if !more {
		return nil, nil
	}

	prompt := strings.TrimSpace(string(fromServer))
	switch prompt {
	case "Username:":
		return []byte(l.username), nil
	case "Password:":
		return []byte(l.password), nil
	default:
		return nil, errors.New("unexpected LOGIN prompt from server")
	}
}

func smtpAuth(s SMTPSettings) (smtp.Auth, error) {
	switch strings.ToLower(s.AuthMethod) {
	case AuthMethodNone:
		return nil, nil
	case AuthMethodCramMD5:
		return smtp.CRAMMD5Auth(s.Username, s.Password), nil
	case AuthMethodPlain:
		return smtp.PlainAuth("", s.Username, s.Password, s.Server), nil
	case AuthMethodLogin:
		return LoginAuth(s.Username, s.Password, s.Server), nil
	default:
		return nil, fmt.Errorf("unknown SMTP auth method '%s'", s.AuthMethod)
	}
}

// SendEmail sends e. The context bounds the time spent dialing the server.
func (m *Service) SendEmail(ctx context.Context, e Email) error {
	if m.settings.Server == "" {
		return errors.New("email not configured")
	}
	return m.sendMail(ctx, e, getMessageBody(e))
}

func (m *Service) sendMail(ctx context.Context, e Email, msg []byte) error {
	smtpHost := net.JoinHostPort(m.settings.Server, fmt.Sprint(m.settings.Port))
	auth, err := smtpAuth(m.settings)
	if err != nil {
		return fmt.Errorf("failed to get smtp auth: %w", err)
	}

	tlsConfig := &tls.Config{
		ServerName:         m.settings.Server,
		InsecureSkipVerify: !m.settings.VerifySSLCerts, //nolint:gosec
	}

	var client *smtp.Client
	if m.settings.EnableTLS {
		client, err = dialTimeout(ctx, smtpHost, tlsConfig)
	} else {
		client, err = dialTimeout(ctx, smtpHost, nil)
	}
	if err != nil {
		return fmt.Errorf("could not dial smtp host: %w", err)
	}
	defer client.Close()

	if m.settings.EnableStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err = client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("startTLS error: %w", err)
			}
		}
	}
	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("client auth error: %w", err)
		}
	}
	if err = client.Mail(e.From); err != nil {
		return fmt.Errorf("could not issue mail to provided address: %w", err)
	}
	for _, recip := range e.To {
		if err = client.Rcpt(recip); err != nil {
			return fmt.Errorf("failed to get recipient: %w", err)
		}
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("getting client data: %w", err)
	}

	_, err = writer.Write(msg)
	if err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}

	if err = writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("error on client quit: %w", err)
	}
	return nil
}

const dialTimeoutDuration = 28 * time.Second

// dialTimeout sets a timeout on the dial to prevent email from attempting to
// send indefinitely.
func dialTimeout(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeoutDuration}

	var (
		conn net.Conn
		err  error
	)
	if tlsConfig == nil {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing with timeout: %w", err)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("split host port: %w", err)
	}

	// Set a deadline to ensure we time out quickly when there is a TCP
	// server listening but it's not an SMTP server
	_ = conn.SetDeadline(time.Now().Add(dialTimeoutDuration))
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP connection error: %w", err)
	}
	// Clear deadlines
	_ = conn.SetDeadline(time.Time{})

	return client, nil
}
