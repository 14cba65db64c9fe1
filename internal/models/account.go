// Package models defines the data types shared across the pipeline stages.
package models

import (
	"regexp"
	"strings"
)

var reAccountID = regexp.MustCompile(`^\d{12}$`)

// Account describes one entry from the account inventory. Accounts are
// immutable once decoded from the inventory listing.
type Account struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SchemaVersion string    `json:"schemaVersion"`
	Environment   string    `json:"environment,omitempty"`
	Services      []Service `json:"services,omitempty"`

	// Alias holds aliases for schema version 1 listings, Aliases for
	// version 2. Use AliasNames to read whichever applies.
	Alias   []string `json:"alias,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// Service is a per-account service registration in the inventory.
type Service struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// AliasNames returns the alias list for the account's schema version.
func (a Account) AliasNames() []string {
	if a.SchemaVersion == "2" {
		return a.Aliases
	}
	return a.Alias
}

// HasServiceEnabled reports whether the account registers the named service
// with enabled status.
func (a Account) HasServiceEnabled(service string) bool {
	for _, s := range a.Services {
		if s.Name == service && s.Enabled {
			return true
		}
	}
	return false
}

// IsAccountID reports whether the token is a literal 12-digit account id, as
// opposed to an account name or alias that needs inventory resolution.
func IsAccountID(token string) bool {
	return reAccountID.MatchString(token)
}

// AccountIDFromARN extracts the account id portion of an ARN
// (arn:partition:service:region:account-id:resource). It returns an empty
// string when the ARN does not have that shape.
func AccountIDFromARN(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 {
		return ""
	}
	return parts[4]
}
