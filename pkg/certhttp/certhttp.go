// Package certhttp provides uniform creation and configuration of the HTTP
// clients used to talk to the ticketing and wiki services.
package certhttp

import (
	"crypto/tls"
	"net/http"
	"time"
)

// DefaultTimeout is the upper bound of a single remote call when no other
// timeout is configured.
const DefaultTimeout = 30 * time.Second

type clientOpts struct {
	timeout  time.Duration
	tlsConf  *tls.Config
	user     string
	password string
	token    string
}

// ClientOpt is the type for the client-specific options.
type ClientOpt func(o *clientOpts)

// WithTimeout sets the timeout to use for the HTTP client. A zero or
// negative value keeps DefaultTimeout.
func WithTimeout(t time.Duration) ClientOpt {
	return func(o *clientOpts) {
		if t > 0 {
			o.timeout = t
		}
	}
}

// WithTLSClientConfig provides the TLS configuration to use for the HTTP
// client's transport.
func WithTLSClientConfig(conf *tls.Config) ClientOpt {
	return func(o *clientOpts) {
		o.tlsConf = conf.Clone()
	}
}

// WithBasicAuth makes every request of the client carry the provided basic
// authentication credentials. Nothing is added if user is empty.
func WithBasicAuth(user, password string) ClientOpt {
	return func(o *clientOpts) {
		o.user = user
		o.password = password
	}
}

// WithBearerToken makes every request of the client carry the provided
// token in a bearer Authorization header. It takes precedence over
// WithBasicAuth. Nothing is added if token is empty.
func WithBearerToken(token string) ClientOpt {
	return func(o *clientOpts) {
		o.token = token
	}
}

// NewClient returns an HTTP client configured according to the provided
// options.
func NewClient(opts ...ClientOpt) *http.Client {
	co := clientOpts{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&co)
	}

	var tr http.RoundTripper = NewTransport(WithTLSConfig(co.tlsConf))
	switch {
	case co.token != "":
		tr = &authTransport{next: tr, set: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+co.token)
		}}
	case co.user != "":
		tr = &authTransport{next: tr, set: func(r *http.Request) {
			r.SetBasicAuth(co.user, co.password)
		}}
	}

	//nolint:gocritic
	return &http.Client{
		Timeout:   co.timeout,
		Transport: tr,
	}
}

type transportOpts struct {
	tlsConf *tls.Config
}

// TransportOpt is the type for transport-specific options.
type TransportOpt func(o *transportOpts)

// WithTLSConfig sets the TLS configuration of the transport. A nil config
// keeps the default.
func WithTLSConfig(conf *tls.Config) TransportOpt {
	return func(o *transportOpts) {
		if conf != nil {
			o.tlsConf = conf.Clone()
		}
	}
}

// NewTransport creates an http transport derived from Go's
// http.DefaultTransport, overriding only what the options ask for.
func NewTransport(opts ...TransportOpt) *http.Transport {
	var to transportOpts
	for _, opt := range opts {
		opt(&to)
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if to.tlsConf != nil {
		tr.TLSClientConfig = to.tlsConf
	}
	return tr
}

type authTransport struct {
	next http.RoundTripper
	set  func(r *http.Request)
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// a RoundTripper must not modify the caller's request
	req2 := req.Clone(req.Context())
	t.set(req2)
	return t.next.RoundTrip(req2)
}
