package fee

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

func TestCompute_DefaultTable(t *testing.T) {
	p := Default()

	tests := []struct {
		name              string
		kind              domain.Kind
		role              domain.Role
		amount            int64
		fee               int64
		platform          int64
		counterpartyShare int64
		code              bool
	}{
		{"withdrawal 2%", domain.KindWithdrawal, domain.RoleAgent, 100_000, 2_000, 800, 1_200, true},
		{"withdrawal rounds half up", domain.KindWithdrawal, domain.RoleAgent, 10_025, 201, 80, 121, true},
		{"float to admin is free", domain.KindFloat, domain.RoleAdmin, 500_000, 0, 0, 0, false},
		{"float to agent is free", domain.KindFloat, domain.RoleAgent, 500_000, 0, 0, 0, true},
		{"cancellation 5%", domain.KindCancellation, domain.RoleAgent, 100_000, 5_000, 3_000, 2_000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := p.Compute(tt.kind, tt.role, tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.fee, q.Fee)
			assert.Equal(t, tt.platform, q.Split.PlatformShare)
			assert.Equal(t, tt.counterpartyShare, q.Split.CounterpartyShare)
			assert.Equal(t, q.Fee, q.Split.PlatformShare+q.Split.CounterpartyShare)
			assert.Equal(t, tt.code, q.RequiresCode)
		})
	}
}

func TestCompute_RejectsUnknownPairAndBadAmount(t *testing.T) {
	p := Default()

	_, err := p.Compute(domain.KindWithdrawal, domain.RoleClient, 10_000)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = p.Compute(domain.KindWithdrawal, domain.RoleAgent, 0)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestApplyBps(t *testing.T) {
	assert.Equal(t, int64(0), ApplyBps(24, 200))  // 0.48
	assert.Equal(t, int64(1), ApplyBps(25, 200))  // 0.5
	assert.Equal(t, int64(1), ApplyBps(74, 200))  // 1.48
	assert.Equal(t, int64(2), ApplyBps(75, 200))  // 1.5
	assert.Equal(t, int64(0), ApplyBps(1000, 0))
}

func TestNewPolicy_Validates(t *testing.T) {
	_, err := NewPolicy([]Entry{{Kind: "BOGUS", CounterpartyRole: domain.RoleAgent}})
	assert.Error(t, err)

	_, err = NewPolicy([]Entry{{Kind: domain.KindFloat, CounterpartyRole: domain.RoleAgent, Rule: Rule{RateBps: 20_000}}})
	assert.Error(t, err)

	dup := []Entry{
		{Kind: domain.KindFloat, CounterpartyRole: domain.RoleAgent},
		{Kind: domain.KindFloat, CounterpartyRole: domain.RoleAgent},
	}
	_, err = NewPolicy(dup)
	assert.Error(t, err)
}

func TestNewPolicy_AgentFloatFeeIsPluggable(t *testing.T) {
	table := DefaultTable()
	for i := range table {
		if table[i].Kind == domain.KindFloat && table[i].CounterpartyRole == domain.RoleAgent {
			table[i].RateBps = 50
		}
	}
	p, err := NewPolicy(table)
	require.NoError(t, err)

	q, err := p.Compute(domain.KindFloat, domain.RoleAgent, 200_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), q.Fee)
	assert.Equal(t, int64(1_000), q.Split.CounterpartyShare)
}
