package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"arnscan/internal/models"
)

// FieldAccessAdvisor is the record field the access advisor step writes.
const FieldAccessAdvisor = "access_advisor"

// defaultPollInterval is the delay between job status checks.
const defaultPollInterval = 500 * time.Millisecond

// AdvisorAPI is the slice of the IAM service the access advisor step calls.
// *iam.Client satisfies it; tests supply a mock.
type AdvisorAPI interface {
	GenerateServiceLastAccessedDetails(ctx context.Context, params *iam.GenerateServiceLastAccessedDetailsInput, optFns ...func(*iam.Options)) (*iam.GenerateServiceLastAccessedDetailsOutput, error)
	GetServiceLastAccessedDetails(ctx context.Context, params *iam.GetServiceLastAccessedDetailsInput, optFns ...func(*iam.Options)) (*iam.GetServiceLastAccessedDetailsOutput, error)
}

// AdvisorClientFunc returns an IAM client scoped to the given account.
type AdvisorClientFunc func(ctx context.Context, accountID string) (AdvisorAPI, error)

// AccessAdvisor is the enrichment step that asks IAM Access Advisor which
// services the ARN last used. It generates a service-last-accessed job, polls
// it to completion, and writes the per-service usage details under the
// access_advisor field.
type AccessAdvisor struct {
	clientFor    AdvisorClientFunc
	pollInterval time.Duration
}

// NewAccessAdvisor builds the step. clientFor is called once per record with
// the account id parsed from the ARN.
func NewAccessAdvisor(clientFor AdvisorClientFunc) *AccessAdvisor {
	return &AccessAdvisor{clientFor: clientFor, pollInterval: defaultPollInterval}
}

func (a *AccessAdvisor) Name() string { return "access-advisor" }

func (a *AccessAdvisor) Apply(ctx context.Context, arn string, rec Record) (Record, error) {
	accountID := models.AccountIDFromARN(arn)
	if accountID == "" {
		return nil, fmt.Errorf("cannot parse account id from %q", arn)
	}

	client, err := a.clientFor(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("client for account %s: %w", accountID, err)
	}

	gen, err := client.GenerateServiceLastAccessedDetails(ctx, &iam.GenerateServiceLastAccessedDetailsInput{
		Arn: aws.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("generate access advisor job: %w", err)
	}

	services, err := a.awaitJob(ctx, client, gen.JobId)
	if err != nil {
		return nil, err
	}

	rec[FieldAccessAdvisor] = services
	return rec, nil
}

// awaitJob polls the job until it completes and collects every page of
// service details.
func (a *AccessAdvisor) awaitJob(ctx context.Context, client AdvisorAPI, jobID *string) ([]map[string]any, error) {
	var services []map[string]any
	var marker *string

	for {
		out, err := client.GetServiceLastAccessedDetails(ctx, &iam.GetServiceLastAccessedDetailsInput{
			JobId:  jobID,
			Marker: marker,
		})
		if err != nil {
			return nil, fmt.Errorf("get access advisor details: %w", err)
		}

		switch out.JobStatus {
		case types.JobStatusTypeInProgress:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.pollInterval):
			}
			continue
		case types.JobStatusTypeFailed:
			msg := "unknown cause"
			if out.Error != nil {
				msg = aws.ToString(out.Error.Message)
			}
			return nil, fmt.Errorf("access advisor job failed: %s", msg)
		}

		for _, s := range out.ServicesLastAccessed {
			entry := map[string]any{
				"service_name":                 aws.ToString(s.ServiceName),
				"service_namespace":            aws.ToString(s.ServiceNamespace),
				"total_authenticated_entities": int(aws.ToInt32(s.TotalAuthenticatedEntities)),
			}
			if s.LastAuthenticated != nil {
				entry["last_authenticated"] = s.LastAuthenticated.UTC().Format(time.RFC3339)
			}
			services = append(services, entry)
		}

		if !out.IsTruncated {
			return services, nil
		}
		marker = out.Marker
	}
}
