// Package inventory resolves accounts from the external account inventory.
// The pipeline only depends on the Directory interface; the S3Directory
// implementation reads a SWAG-style account listing from object storage.
package inventory

import (
	"context"
	"errors"

	"arnscan/internal/models"
)

// ErrUnavailable marks inventory failures caused by auth, configuration, or
// transient connectivity problems. During seeding it is fatal to the run.
var ErrUnavailable = errors.New("account inventory unavailable")

// Directory is the account-inventory contract the pipeline seeds from.
type Directory interface {
	// ListAccounts returns the inventory listing. A non-empty filter
	// restricts the listing to accounts in that environment.
	ListAccounts(ctx context.Context, filter string) ([]models.Account, error)

	// FilterServiceEnabled keeps the accounts that have the named service
	// registered and enabled.
	FilterServiceEnabled(ctx context.Context, service string, accounts []models.Account) ([]models.Account, error)
}
