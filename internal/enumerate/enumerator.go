// Package enumerate discovers the enumerable IAM entities of an account:
// roles, users, locally managed policies, and groups. The pipeline depends
// on the Enumerator interface; the IAM implementation assumes a role in the
// target account and pages through the listings.
package enumerate

import (
	"context"
	"errors"
)

// ErrEnumeration marks failures from the identity enumeration calls. The
// pipeline isolates these to the account being enumerated.
var ErrEnumeration = errors.New("enumeration failed")

// Enumerator lists entity ARNs for one account. Each call covers one entity
// class and returns every page of results.
type Enumerator interface {
	ListRoles(ctx context.Context, accountID string) ([]string, error)
	ListUsers(ctx context.Context, accountID string) ([]string, error)
	ListManagedPolicies(ctx context.Context, accountID string) ([]string, error)
	ListGroups(ctx context.Context, accountID string) ([]string, error)
}
