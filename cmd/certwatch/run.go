package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/WatchBeam/clock"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/acm"
	"github.com/fleetdm/certwatch/pkg/keepass"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/config"
	"github.com/fleetdm/certwatch/server/contexts/ctxerr"
	certcreds "github.com/fleetdm/certwatch/server/credentials"
	"github.com/fleetdm/certwatch/server/discovery"
	"github.com/fleetdm/certwatch/server/export"
	"github.com/fleetdm/certwatch/server/extractor"
	"github.com/fleetdm/certwatch/server/mail"
	"github.com/fleetdm/certwatch/server/metrics"
	"github.com/fleetdm/certwatch/server/notifier"
	"github.com/fleetdm/certwatch/server/service"
	"github.com/fleetdm/certwatch/server/service/externalsvc"
	"github.com/fleetdm/certwatch/server/tracker"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func createRunCmd(configManager config.Manager) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the certificate expiry check once",
		Long: `
Run the certificate expiry check once.

The certificates of the enabled sources are extracted, deduplicated, and the
ones expiring within notifier.days are sent to the enabled channels, in
ascending channel priority.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configManager.LoadConfig()
			runID := uuid.New().String()
			logger := initLogger(cfg, runID)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = ctxerr.NewContext(ctx, runID)

			runner, err := newRunner(cfg, clock.C, logger)
			if err != nil {
				level.Error(logger).Log("msg", "invalid configuration", "err", err)
				return err
			}
			if _, err := runner.Run(ctx); err != nil {
				level.Error(logger).Log("msg", "run failed", "err", err)
				return err
			}
			return nil
		},
	}
	return runCmd
}

// newRunner wires the components of a run according to cfg.
func newRunner(cfg config.CertwatchConfig, clck clock.Clock, logger kitlog.Logger) (*service.Runner, error) {
	var opts []service.RunnerOption

	extractors, scratch, err := newExtractors(cfg, logger)
	if err != nil {
		return nil, err
	}
	if scratch != nil {
		opts = append(opts, service.WithScratchArea(scratch))
	}

	notifiers, err := newNotifiers(cfg, clck, logger)
	if err != nil {
		return nil, err
	}

	if p := metrics.NewPusher(metrics.PushOptions{
		URL:      cfg.Metrics.PushgatewayURL,
		Job:      cfg.Metrics.Job,
		Username: cfg.Metrics.Username,
		Password: cfg.Metrics.Password,
		Timeout:  cfg.Metrics.Timeout,
	}); p != nil {
		opts = append(opts, service.WithMetrics(metrics.NewRecorder(), p))
	}

	return service.NewRunner(
		extractor.NewCoordinator(cfg.Extractor.Enabled, logger, extractors...),
		notifier.NewCoordinator(cfg.Notifier.Enabled, logger, notifiers...),
		clck,
		cfg.Notifier.Days,
		logger,
		opts...,
	), nil
}

// newExtractors returns the extraction strategies that are enabled, and the
// scratch area of the repository discovery if the keystore strategy is one
// of them.
func newExtractors(cfg config.CertwatchConfig, logger kitlog.Logger) ([]extractor.Extractor, *discovery.Git, error) {
	var (
		extractors []extractor.Extractor
		scratch    *discovery.Git
	)
	for _, name := range cfg.Extractor.Enabled {
		typ, ok := certwatch.ParseExtractorType(name)
		if !ok {
			continue
		}
		switch typ {
		case certwatch.ExtractorKeystore:
			if scratch != nil {
				continue
			}
			scratch = discovery.New(discovery.Options{
				ScratchDir:     cfg.Crawler.ScratchDir,
				User:           cfg.Crawler.User,
				Token:          cfg.Crawler.Token,
				IgnoreSuffixes: cfg.Crawler.IgnoreSuffixes,
			}, logger)
			vault := keepass.New(keepass.Options{
				Binary:     cfg.Vault.CLIPath,
				Database:   cfg.Vault.WorkingPath,
				Passphrase: cfg.Vault.Password,
				Timeout:    cfg.Vault.Timeout,
			})
			resolver := certcreds.NewResolver(vault, nil, certcreds.Options{
				ScratchDir:   cfg.Crawler.ScratchDir,
				DatabaseName: cfg.Vault.DatabaseName,
				WorkingPath:  cfg.Vault.WorkingPath,
			}, logger)
			extractors = append(extractors, extractor.NewKeystore(scratch, resolver, extractor.KeystoreOptions{
				Repositories: cfg.Crawler.Repositories,
				Extensions:   cfg.Keystore.Extensions,
				Concurrency:  cfg.Keystore.Concurrency,
			}, logger))

		case certwatch.ExtractorACM:
			sess, err := newAWSSession(cfg.AWS)
			if err != nil {
				return nil, nil, err
			}
			extractors = append(extractors, extractor.NewACM(acm.New(sess), logger))
		}
	}
	return extractors, scratch, nil
}

func newAWSSession(cfg config.AWSConfig) (*session.Session, error) {
	conf := &aws.Config{}
	if cfg.Region != "" {
		conf.Region = aws.String(cfg.Region)
	}
	if cfg.EndpointURL != "" {
		conf.Endpoint = aws.String(cfg.EndpointURL)
	}

	// Use default auth provider if no static credentials were provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		conf.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(conf)
	if err != nil {
		return nil, errors.Wrap(err, "create AWS session")
	}

	// Assume role if configured
	if cfg.StsAssumeRoleArn != "" {
		conf.Credentials = stscreds.NewCredentials(sess, cfg.StsAssumeRoleArn)
		sess, err = session.NewSession(conf)
		if err != nil {
			return nil, errors.Wrap(err, "create AWS session")
		}
	}
	return sess, nil
}

// newNotifiers returns the notification channels that are enabled. The
// console channel is always registered since unknown channel names select
// it.
func newNotifiers(cfg config.CertwatchConfig, clck clock.Clock, logger kitlog.Logger) ([]notifier.Notifier, error) {
	enabled := make(map[certwatch.NotifierType]bool)
	for _, name := range cfg.Notifier.Enabled {
		enabled[certwatch.ParseNotifierType(name)] = true
	}
	exporter := export.NewExporter(cfg.Export.Dir)

	var (
		jiraClient *externalsvc.Jira
		reconciler notifier.Reconciler = passthroughReconciler{}
	)
	if enabled[certwatch.NotifierJira] && cfg.Jira.URL == "" {
		return nil, fmt.Errorf("jira.url is required by the %s channel", certwatch.NotifierJira)
	}
	if cfg.Jira.URL != "" && (enabled[certwatch.NotifierJira] || enabled[certwatch.NotifierConfluence]) {
		c, err := externalsvc.NewJiraClient(&externalsvc.JiraOptions{
			BaseURL:           cfg.Jira.URL,
			BasicAuthUsername: cfg.Jira.Username,
			BasicAuthPassword: cfg.Jira.Password,
			BearerToken:       cfg.Jira.Token,
			ProjectKey:        cfg.Jira.ProjectKey,
			Label:             cfg.Jira.Label,
			Timeout:           cfg.Jira.Timeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create Jira client")
		}
		jiraClient = c
		reconciler = tracker.NewReconciler(c, logger)
	}

	notifiers := []notifier.Notifier{
		notifier.NewBasic(exporter, clck, cfg.Basic.Priority, logger),
	}
	if enabled[certwatch.NotifierJira] {
		notifiers = append(notifiers, notifier.NewJira(jiraClient, reconciler, exporter, clck, notifier.JiraOptions{
			Priority:  cfg.Jira.Priority,
			IssueType: cfg.Jira.IssueType,
		}, logger))
	}
	if enabled[certwatch.NotifierConfluence] {
		c, err := externalsvc.NewConfluenceClient(&externalsvc.ConfluenceOptions{
			BaseURL:           cfg.Confluence.URL,
			BasicAuthUsername: cfg.Confluence.Username,
			BasicAuthPassword: cfg.Confluence.Password,
			BearerToken:       cfg.Confluence.Token,
			Timeout:           cfg.Confluence.Timeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create Confluence client")
		}
		notifiers = append(notifiers, notifier.NewConfluence(c, reconciler, exporter, clck, notifier.ConfluenceOptions{
			Priority:     cfg.Confluence.Priority,
			ContentID:    cfg.Confluence.ContentID,
			AttachmentID: cfg.Confluence.AttachmentID,
		}, logger))
	}
	if enabled[certwatch.NotifierEmail] {
		if cfg.SMTP.Server == "" {
			return nil, fmt.Errorf("smtp.server is required by the %s channel", certwatch.NotifierEmail)
		}
		mailer := mail.NewService(mail.SMTPSettings{
			Server:         cfg.SMTP.Server,
			Port:           cfg.SMTP.Port,
			Username:       cfg.SMTP.Username,
			Password:       cfg.SMTP.Password,
			AuthMethod:     cfg.SMTP.AuthMethod,
			EnableTLS:      cfg.SMTP.EnableTLS,
			EnableStartTLS: cfg.SMTP.EnableStartTLS,
			VerifySSLCerts: cfg.SMTP.VerifySSLCerts,
		})
		notifiers = append(notifiers, notifier.NewEmail(mailer, clck, notifier.EmailOptions{
			Priority: cfg.Email.Priority,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
			Subject:  cfg.Email.Subject,
			Intro:    cfg.Email.Intro,
		}, logger))
	}
	return notifiers, nil
}

// passthroughReconciler is used when no ticketing system is configured:
// no certificate is tracked.
type passthroughReconciler struct{}

func (passthroughReconciler) Reconcile(ctx context.Context, certs []*certwatch.Certificate) []*certwatch.Certificate {
	return certs
}
