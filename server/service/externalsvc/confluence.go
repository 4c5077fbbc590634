package externalsvc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fleetdm/certwatch/pkg/certhttp"
)

// Confluence is a client of the Confluence REST API, limited to the
// replacement of page attachments.
type Confluence struct {
	client  HTTPDoer
	baseURL string
}

// ConfluenceOptions defines the options to configure a Confluence client.
type ConfluenceOptions struct {
	BaseURL           string
	BasicAuthUsername string
	BasicAuthPassword string
	BearerToken       string
	Timeout           time.Duration
}

// NewConfluenceClient returns a Confluence client.
func NewConfluenceClient(opts *ConfluenceOptions) (*Confluence, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid confluence url: %s", opts.BaseURL)
	}
	return &Confluence{
		client: certhttp.NewClient(
			certhttp.WithTimeout(opts.Timeout),
			certhttp.WithBasicAuth(opts.BasicAuthUsername, opts.BasicAuthPassword),
			certhttp.WithBearerToken(opts.BearerToken),
		),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}, nil
}

// UpdateAttachment uploads a new version of the attachment attachmentID of
// the content contentID, and returns the HTTP status code of the response.
// The request is not retried.
func (c *Confluence) UpdateAttachment(ctx context.Context, contentID, attachmentID, fileName string, data io.Reader) (int, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(part, data); err != nil {
		return 0, err
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/rest/api/content/%s/child/attachment/%s/data",
		c.baseURL, url.PathEscape(contentID), url.PathEscape(attachmentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "no-check")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
