package externalsvc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/cenkalti/backoff/v4"
	"github.com/fleetdm/certwatch/pkg/certhttp"
)

const (
	maxRetries   = 5
	retryBackoff = 300 * time.Millisecond

	searchPageSize = 50
)

// ErrUnexpectedStatus is returned when a request to an external service
// completes with a status code that does not mean success for that request.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// Jira is a Jira client to be used to make requests to a jira external
// service.
type Jira struct {
	client     *jira.Client
	projectKey string
	label      string
}

// JiraOptions defines the options to configure a Jira client.
type JiraOptions struct {
	BaseURL           string
	BasicAuthUsername string
	BasicAuthPassword string
	// BearerToken is a personal access token, used instead of the basic
	// authentication credentials when set.
	BearerToken string
	ProjectKey  string
	// Label is set on the issues created by the client, and used to find the
	// open ones.
	Label   string
	Timeout time.Duration
}

// NewJiraClient returns a Jira client to use to make requests to a jira
// external service.
func NewJiraClient(opts *JiraOptions) (*Jira, error) {
	httpClient := certhttp.NewClient(
		certhttp.WithTimeout(opts.Timeout),
		certhttp.WithBasicAuth(opts.BasicAuthUsername, opts.BasicAuthPassword),
		certhttp.WithBearerToken(opts.BearerToken),
	)
	client, err := jira.NewClient(httpClient, opts.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Jira{
		client:     client,
		projectKey: opts.ProjectKey,
		label:      opts.Label,
	}, nil
}

// CreateIssue creates an issue in the project of the Jira client, with the
// client's label. It returns the created issue or an error. Only a 201
// Created response is a success. The request is not retried, so that a
// response lost in transit cannot create the issue twice.
func (j *Jira) CreateIssue(ctx context.Context, issue *jira.Issue) (*jira.Issue, error) {
	if issue.Fields == nil {
		issue.Fields = &jira.IssueFields{}
	}
	issue.Fields.Project.Key = j.projectKey
	if j.label != "" && !contains(issue.Fields.Labels, j.label) {
		issue.Fields.Labels = append(issue.Fields.Labels, j.label)
	}

	createdIssue, resp, err := j.client.Issue.CreateWithContext(ctx, issue)
	if err != nil {
		return nil, err
	}
	if code := statusCode(resp); code != http.StatusCreated {
		return nil, fmt.Errorf("create issue: %w: %d", ErrUnexpectedStatus, code)
	}
	return createdIssue, nil
}

// SearchOpenIssues returns the unresolved issues of the project of the Jira
// client that carry the client's label. Every page of results is requested,
// each one with retries.
func (j *Jira) SearchOpenIssues(ctx context.Context) ([]jira.Issue, error) {
	jql := fmt.Sprintf(`project = "%s" AND labels = "%s" AND resolution = Unresolved`, j.projectKey, j.label)

	var issues []jira.Issue
	for startAt := 0; ; {
		var (
			page []jira.Issue
			resp *jira.Response
		)
		op := func() error {
			var err error
			page, resp, err = j.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{
				StartAt:    startAt,
				MaxResults: searchPageSize,
				Fields:     []string{"summary"},
			})
			return retryableJiraError(err, resp)
		}

		boff := backoff.WithMaxRetries(backoff.NewConstantBackOff(retryBackoff), uint64(maxRetries))
		if err := backoff.Retry(op, backoff.WithContext(boff, ctx)); err != nil {
			return nil, err
		}

		issues = append(issues, page...)
		startAt += len(page)
		if len(page) == 0 || resp == nil || startAt >= resp.Total {
			return issues, nil
		}
	}
}

// retryableJiraError returns err if the request can be retried, a permanent
// error if not, and nil if err is nil.
func retryableJiraError(err error, resp *jira.Response) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			// retryable error
			return err
		}
	}

	if statusCode(resp) >= http.StatusInternalServerError {
		// 500+ status, can be worth retrying
		return err
	}

	// at this point, this is a non-retryable error
	return backoff.Permanent(err)
}

func statusCode(resp *jira.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
