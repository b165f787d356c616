// Package fee computes request fees and their platform/counterparty split.
// All rates are basis points and every division rounds half up.
package fee

import (
	"fmt"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

const bpsDenominator = 10_000

// Rule is the fee rule of one (kind, counterparty role) pair.
type Rule struct {
	RateBps          int64 `mapstructure:"rate_bps" json:"rate_bps"`
	PlatformShareBps int64 `mapstructure:"platform_share_bps" json:"platform_share_bps"`
	RequiresCode     bool  `mapstructure:"requires_code" json:"requires_code"`
}

type key struct {
	kind domain.Kind
	role domain.Role
}

// Policy is an immutable fee table.
type Policy struct {
	rules map[key]Rule
}

// Quote is the result of Compute. Fee == Split.PlatformShare + Split.CounterpartyShare.
type Quote struct {
	Fee          int64
	Split        domain.FeeSplit
	RequiresCode bool
}

// Entry is one row of a fee table as loaded from configuration.
type Entry struct {
	Kind             domain.Kind `mapstructure:"kind"`
	CounterpartyRole domain.Role `mapstructure:"counterparty_role"`
	Rule             `mapstructure:",squash"`
}

// DefaultTable is the authoritative table shipped with the service.
func DefaultTable() []Entry {
	return []Entry{
		{Kind: domain.KindWithdrawal, CounterpartyRole: domain.RoleAgent, Rule: Rule{RateBps: 200, PlatformShareBps: 4_000, RequiresCode: true}},
		{Kind: domain.KindFloat, CounterpartyRole: domain.RoleAdmin, Rule: Rule{RateBps: 0}},
		{Kind: domain.KindFloat, CounterpartyRole: domain.RoleAgent, Rule: Rule{RateBps: 0, RequiresCode: true}},
		{Kind: domain.KindCancellation, CounterpartyRole: domain.RoleAgent, Rule: Rule{RateBps: 500, PlatformShareBps: 6_000}},
	}
}

func NewPolicy(entries []Entry) (*Policy, error) {
	p := &Policy{rules: make(map[key]Rule, len(entries))}
	for _, e := range entries {
		if !e.Kind.Valid() {
			return nil, fmt.Errorf("fee table: unknown kind %q", e.Kind)
		}
		if e.RateBps < 0 || e.RateBps > bpsDenominator {
			return nil, fmt.Errorf("fee table: %s/%s rate %d bps out of range", e.Kind, e.CounterpartyRole, e.RateBps)
		}
		if e.PlatformShareBps < 0 || e.PlatformShareBps > bpsDenominator {
			return nil, fmt.Errorf("fee table: %s/%s platform share %d bps out of range", e.Kind, e.CounterpartyRole, e.PlatformShareBps)
		}
		k := key{kind: e.Kind, role: e.CounterpartyRole}
		if _, dup := p.rules[k]; dup {
			return nil, fmt.Errorf("fee table: duplicate rule for %s/%s", e.Kind, e.CounterpartyRole)
		}
		p.rules[k] = e.Rule
	}
	return p, nil
}

// Default returns the policy built from DefaultTable.
func Default() *Policy {
	p, err := NewPolicy(DefaultTable())
	if err != nil {
		panic(err)
	}
	return p
}

// Rule returns the rule for kind and counterparty role, if the pair is allowed at all.
func (p *Policy) Rule(kind domain.Kind, role domain.Role) (Rule, bool) {
	r, ok := p.rules[key{kind: kind, role: role}]
	return r, ok
}

func (p *Policy) Compute(kind domain.Kind, counterpartyRole domain.Role, amount int64) (Quote, error) {
	if amount <= 0 {
		return Quote{}, domain.Invalid("amount", "must be positive")
	}
	r, ok := p.Rule(kind, counterpartyRole)
	if !ok {
		return Quote{}, domain.Invalid("counterparty", fmt.Sprintf("%s requests cannot target a %s", kind, counterpartyRole))
	}
	fee := ApplyBps(amount, r.RateBps)
	platform := ApplyBps(fee, r.PlatformShareBps)
	return Quote{
		Fee: fee,
		Split: domain.FeeSplit{
			PlatformBps:       r.PlatformShareBps,
			PlatformShare:     platform,
			CounterpartyShare: fee - platform,
		},
		RequiresCode: r.RequiresCode,
	}, nil
}

// ApplyBps returns amount*bps/10000 rounded half up.
func ApplyBps(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount*bps + bpsDenominator/2) / bpsDenominator
}
