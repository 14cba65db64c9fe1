package pipeline

import (
	"context"
	"log"

	"arnscan/internal/models"
)

// seed populates the account or ARN queue from one of the three sources.
// Errors here are fatal: no workers have started, so there is no item to
// isolate the failure to.
func (r *Runner) seed(ctx context.Context, accounts, arns []string) error {
	if len(arns) > 0 {
		for _, arn := range arns {
			r.arnQueue.Put(arn)
		}
		log.Printf("seeded %d ARNs directly, skipping account resolution", len(arns))
		return nil
	}
	if len(accounts) > 0 {
		return r.seedRequestedAccounts(ctx, accounts)
	}
	return r.seedAllAccounts(ctx)
}

// seedRequestedAccounts queues literal account ids directly and resolves the
// remaining tokens against the inventory by exact name or alias match. The
// queued set guarantees an account id is enqueued at most once even when
// several of its aliases match.
func (r *Runner) seedRequestedAccounts(ctx context.Context, tokens []string) error {
	queued := make(map[string]bool)
	wanted := make(map[string]struct{})
	for _, token := range tokens {
		if models.IsAccountID(token) {
			if !queued[token] {
				r.accountQueue.Put(token)
				queued[token] = true
			}
			continue
		}
		wanted[token] = struct{}{}
	}
	if len(wanted) == 0 {
		return nil
	}

	listing, err := r.directory.ListAccounts(ctx, r.cfg.InventoryFilter)
	if err != nil {
		return err
	}

	for _, acct := range listing {
		if !matchesAny(acct, wanted) || queued[acct.ID] {
			continue
		}
		r.accountQueue.Put(acct.ID)
		queued[acct.ID] = true
	}

	log.Printf("queued %d accounts for %d requested tokens", len(queued), len(tokens))
	return nil
}

// matchesAny reports whether the account's name or any of its aliases is one
// of the requested tokens. Matching is case-sensitive and exact.
func matchesAny(acct models.Account, wanted map[string]struct{}) bool {
	if _, ok := wanted[acct.Name]; ok {
		return true
	}
	for _, alias := range acct.AliasNames() {
		if _, ok := wanted[alias]; ok {
			return true
		}
	}
	return false
}

// seedAllAccounts queues every account in the inventory, narrowed by the
// configured filter and service-enabled requirement.
func (r *Runner) seedAllAccounts(ctx context.Context) error {
	listing, err := r.directory.ListAccounts(ctx, r.cfg.InventoryFilter)
	if err != nil {
		return err
	}
	if r.cfg.ServiceRequirement != "" {
		listing, err = r.directory.FilterServiceEnabled(ctx, r.cfg.ServiceRequirement, listing)
		if err != nil {
			return err
		}
	}
	for _, acct := range listing {
		r.accountQueue.Put(acct.ID)
	}
	log.Printf("seeded all %d inventory accounts", len(listing))
	return nil
}
