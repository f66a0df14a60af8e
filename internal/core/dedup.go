package core

import (
	"context"
	"fmt"
	"strings"
)

// DedupPolicy controls what happens when an owner already has a company with the same INN.
type DedupPolicy string

const (
	// PolicyUpdate replaces the existing company's fields and json_data. Default.
	PolicyUpdate DedupPolicy = "update"
	// PolicyStrict skips rows whose INN already exists for the owner.
	PolicyStrict DedupPolicy = "strict"
)

// ParseDedupPolicy parses a policy name; empty means PolicyUpdate.
func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch DedupPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyUpdate:
		return PolicyUpdate, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown dedup policy %q (want update or strict)", s)
	}
}

// Decision is the dedup outcome for one candidate record.
type Decision int

const (
	DecisionCreate Decision = iota
	DecisionUpdate
	DecisionSkipAsDuplicate
)

func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionUpdate:
		return "update"
	case DecisionSkipAsDuplicate:
		return "skip"
	default:
		return "unknown"
	}
}

// DedupResolver decides create/update/skip per (owner, inn) from store state.
// Its decision is advisory: the store's unique (owner_id, inn) constraint is
// authoritative, and a row created concurrently by the time of commit is upserted.
type DedupResolver struct {
	store  CompanyStore
	policy DedupPolicy
}

// NewDedupResolver creates a resolver backed by store.
func NewDedupResolver(store CompanyStore, policy DedupPolicy) *DedupResolver {
	if policy == "" {
		policy = PolicyUpdate
	}
	return &DedupResolver{store: store, policy: policy}
}

// Policy returns the configured policy.
func (r *DedupResolver) Policy() DedupPolicy {
	return r.policy
}

// Decide consults the store for an existing company with rec's INN.
func (r *DedupResolver) Decide(ctx context.Context, ownerID int64, rec CanonicalRecord) (Decision, error) {
	existing, err := r.store.FindByOwnerAndINN(ctx, ownerID, rec.INN)
	if err != nil {
		return DecisionCreate, fmt.Errorf("lookup inn %s: %w", FormatINN(rec.INN), err)
	}
	if existing == nil {
		return DecisionCreate, nil
	}
	if r.policy == PolicyStrict {
		return DecisionSkipAsDuplicate, nil
	}
	return DecisionUpdate, nil
}
