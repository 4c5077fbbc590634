package mail

import (
	"bufio"
	"context"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP is a minimal SMTP server accepting every message.
type fakeSMTP struct {
	ln net.Listener

	mu    sync.Mutex
	from  []string
	rcpts []string
	data  []string
}

func newFakeSMTP(t *testing.T) *fakeSMTP {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTP) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	write := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	write("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			write("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			s.mu.Lock()
			s.from = append(s.from, strings.Trim(line[len("MAIL FROM:"):], "<>"))
			s.mu.Unlock()
			write("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			s.mu.Lock()
			s.rcpts = append(s.rcpts, strings.Trim(line[len("RCPT TO:"):], "<>"))
			s.mu.Unlock()
			write("250 OK")
		case cmd == "DATA":
			write("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = append(s.data, b.String())
			s.mu.Unlock()
			write("250 OK")
		case cmd == "QUIT":
			write("221 bye")
			return
		default:
			write("502 not implemented")
		}
	}
}

func TestSendEmail(t *testing.T) {
	srv := newFakeSMTP(t)
	svc := NewService(SMTPSettings{Server: "127.0.0.1", Port: srv.port()})

	err := svc.SendEmail(context.Background(), Email{
		Subject: "Certificates expiring soon",
		From:    "certwatch@example.com",
		To:      []string{"ops@example.com"},
		HTML:    []byte("<p>hello</p>"),
	})
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"certwatch@example.com"}, srv.from)
	assert.Equal(t, []string{"ops@example.com"}, srv.rcpts)
	require.Len(t, srv.data, 1)
	assert.Contains(t, srv.data[0], "Subject: Certificates expiring soon\r\n")
	assert.Contains(t, srv.data[0], "To: ops@example.com\r\n")
	assert.Contains(t, srv.data[0], `Content-Type: text/html; charset="UTF-8";`)
	assert.Contains(t, srv.data[0], "<p>hello</p>")
}

func TestSendEmailNotConfigured(t *testing.T) {
	err := NewService(SMTPSettings{}).SendEmail(context.Background(), Email{From: "a@b.co", To: []string{"c@d.co"}})
	require.Error(t, err)
}

func TestSMTPAuth(t *testing.T) {
	auth, err := smtpAuth(SMTPSettings{})
	require.NoError(t, err)
	assert.Nil(t, auth)

	for _, m := range []string{AuthMethodPlain, AuthMethodLogin, "CRAM-MD5"} {
		auth, err = smtpAuth(SMTPSettings{AuthMethod: m, Server: "smtp.example.com", Username: "u", Password: "p"})
		require.NoError(t, err, m)
		assert.NotNil(t, auth, m)
	}

	_, err = smtpAuth(SMTPSettings{AuthMethod: "ntlm"})
	require.Error(t, err)
}

func TestLoginAuth(t *testing.T) {
	a := LoginAuth("user", "pwd", "smtp.example.com")

	_, _, err := a.Start(&smtp.ServerInfo{Name: "smtp.example.com"})
	require.Error(t, err)
	_, _, err = a.Start(&smtp.ServerInfo{Name: "other.example.com", TLS: true})
	require.Error(t, err)
	proto, _, err := a.Start(&smtp.ServerInfo{Name: "smtp.example.com", TLS: true})
	require.NoError(t, err)
	assert.Equal(t, "LOGIN", proto)

	b, err := a.Next([]byte("Username:"), true)
	require.NoError(t, err)
	assert.Equal(t, "user", string(b))
	b, err = a.Next([]byte("Password:"), true)
	require.NoError(t, err)
	assert.Equal(t, "pwd", string(b))
	_, err = a.Next([]byte("Token:"), true)
	require.Error(t, err)
}

func TestMessageBody(t *testing.T) {
	msg := string(getMessageBody(Email{Subject: "s", From: "a@b.co", To: []string{"c@d.co", "e@f.co"}, HTML: []byte("x")}))
	assert.True(t, strings.HasPrefix(msg, "Subject: s\r\nFrom: a@b.co\r\nTo: c@d.co, e@f.co\r\n"), msg)
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nx\r\n"), strconv.Quote(msg))
}
