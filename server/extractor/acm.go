package extractor

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/acm"
	"github.com/aws/aws-sdk-go/service/acm/acmiface"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/contexts/ctxerr"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	// ACMSource is the source of the certificates found in AWS Certificate
	// Manager.
	ACMSource = "Certificate Manager"

	acmPageSize = 100
)

// ACM extracts the certificates of AWS Certificate Manager.
type ACM struct {
	client acmiface.ACMAPI
	logger kitlog.Logger
}

// NewACM returns the certificate registry strategy.
func NewACM(client acmiface.ACMAPI, logger kitlog.Logger) *ACM {
	return &ACM{
		client: client,
		logger: kitlog.With(logger, "strategy", certwatch.ExtractorACM),
	}
}

func (a *ACM) Type() certwatch.ExtractorType { return certwatch.ExtractorACM }

// ExportAll lists the certificates of every status and describes them one by
// one. Certificates that cannot be described are skipped.
func (a *ACM) ExportAll(ctx context.Context) ([]*certwatch.Certificate, error) {
	var arns []string
	input := &acm.ListCertificatesInput{
		CertificateStatuses: aws.StringSlice(acm.CertificateStatus_Values()),
		MaxItems:            aws.Int64(acmPageSize),
	}
	err := a.client.ListCertificatesPagesWithContext(ctx, input, func(page *acm.ListCertificatesOutput, lastPage bool) bool {
		for _, s := range page.CertificateSummaryList {
			if arn := aws.StringValue(s.CertificateArn); arn != "" {
				arns = append(arns, arn)
			}
		}
		return true
	})
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "list acm certificates")
	}

	certs := make([]*certwatch.Certificate, 0, len(arns))
	for _, arn := range arns {
		out, err := a.client.DescribeCertificateWithContext(ctx, &acm.DescribeCertificateInput{
			CertificateArn: aws.String(arn),
		})
		if err != nil {
			level.Error(a.logger).Log("msg", "describe certificate", "arn", arn, "err", err)
			continue
		}
		detail := out.Certificate
		if detail == nil || detail.NotAfter == nil {
			level.Info(a.logger).Log("msg", "certificate has no validity window, skipping", "arn", arn)
			continue
		}
		certs = append(certs, &certwatch.Certificate{
			Alias:        arn,
			Project:      aws.StringValue(detail.DomainName),
			SerialNumber: aws.StringValue(detail.Serial),
			NotBefore:    aws.TimeValue(detail.NotBefore),
			NotAfter:     aws.TimeValue(detail.NotAfter),
			Source:       ACMSource,
			IssueID:      certwatch.NoIssue,
		})
	}
	level.Info(a.logger).Log("msg", "registry listed", "listed", len(arns), "certificates", len(certs))
	return certs, nil
}
