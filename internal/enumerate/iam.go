package enumerate

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// sessionName identifies our assumed-role sessions in CloudTrail.
const sessionName = "arnscan"

// IAMConfig holds the account-assumption parameters.
type IAMConfig struct {
	RoleName  string // role assumed in every target account
	Region    string
	Partition string // e.g. "aws", "aws-cn"
}

// IAM enumerates entities through the AWS IAM API, assuming RoleName in each
// target account. Clients are cached per account id so one account's four
// enumeration calls (and its access advisor lookups) share a session.
type IAM struct {
	cfg  IAMConfig
	base aws.Config

	mu      sync.Mutex
	clients map[string]*iam.Client
}

// NewIAM loads the base AWS configuration from the environment and returns
// an enumerator for the given assumption parameters.
func NewIAM(ctx context.Context, cfg IAMConfig) (*IAM, error) {
	if cfg.RoleName == "" {
		return nil, fmt.Errorf("enumerate: role name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Partition == "" {
		cfg.Partition = "aws"
	}

	base, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("enumerate: load aws config: %w", err)
	}

	return &IAM{cfg: cfg, base: base, clients: make(map[string]*iam.Client)}, nil
}

// Client returns an IAM client holding assumed-role credentials for the
// account, building and caching one on first use.
func (e *IAM) Client(_ context.Context, accountID string) (*iam.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if client, ok := e.clients[accountID]; ok {
		return client, nil
	}

	roleARN := fmt.Sprintf("arn:%s:iam::%s:role/%s", e.cfg.Partition, accountID, e.cfg.RoleName)
	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(e.base), roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = sessionName
	})

	cfg := e.base.Copy()
	cfg.Credentials = aws.NewCredentialsCache(provider)
	client := iam.NewFromConfig(cfg)
	e.clients[accountID] = client
	return client, nil
}

func (e *IAM) ListRoles(ctx context.Context, accountID string) ([]string, error) {
	client, err := e.Client(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var arns []string
	pager := iam.NewListRolesPaginator(client, &iam.ListRolesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: roles in account %s: %v", ErrEnumeration, accountID, err)
		}
		for _, role := range page.Roles {
			arns = append(arns, aws.ToString(role.Arn))
		}
	}
	return arns, nil
}

func (e *IAM) ListUsers(ctx context.Context, accountID string) ([]string, error) {
	client, err := e.Client(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var arns []string
	pager := iam.NewListUsersPaginator(client, &iam.ListUsersInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: users in account %s: %v", ErrEnumeration, accountID, err)
		}
		for _, user := range page.Users {
			arns = append(arns, aws.ToString(user.Arn))
		}
	}
	return arns, nil
}

// ListManagedPolicies lists customer managed policies only; AWS managed
// policies are identical in every account and not worth enumerating.
func (e *IAM) ListManagedPolicies(ctx context.Context, accountID string) ([]string, error) {
	client, err := e.Client(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var arns []string
	pager := iam.NewListPoliciesPaginator(client, &iam.ListPoliciesInput{Scope: types.PolicyScopeTypeLocal})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: managed policies in account %s: %v", ErrEnumeration, accountID, err)
		}
		for _, policy := range page.Policies {
			arns = append(arns, aws.ToString(policy.Arn))
		}
	}
	return arns, nil
}

func (e *IAM) ListGroups(ctx context.Context, accountID string) ([]string, error) {
	client, err := e.Client(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var arns []string
	pager := iam.NewListGroupsPaginator(client, &iam.ListGroupsInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: groups in account %s: %v", ErrEnumeration, accountID, err)
		}
		for _, group := range page.Groups {
			arns = append(arns, aws.ToString(group.Arn))
		}
	}
	return arns, nil
}

var _ Enumerator = (*IAM)(nil)
