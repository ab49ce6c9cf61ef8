package authz

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allowElevated(r Request) Decision {
	if r.Actor.Elevated {
		return Allow
	}
	return Abstain
}

func TestChain_FirstOpinionWins(t *testing.T) {
	denied := errors.New("not yours")
	chain := NewChain(
		Rule{Name: "elevated_bypass", Check: allowElevated},
		Rule{Name: "owner_only", Check: func(r Request) Decision {
			if r.Actor.ID != "owner" {
				return Deny
			}
			return Abstain
		}, Denied: denied},
	)

	// bypass rule allows before the owner rule can deny
	err := chain.Authorize(Request{Actor: Actor{ID: "intruder", Elevated: true}, Action: "edit"})
	require.NoError(t, err)

	err = chain.Authorize(Request{Actor: Actor{ID: "intruder"}, Action: "edit"})
	assert.ErrorIs(t, err, denied)

	err = chain.Authorize(Request{Actor: Actor{ID: "owner"}, Action: "edit"})
	assert.NoError(t, err)
}

func TestChain_AllAbstainAllows(t *testing.T) {
	chain := NewChain(
		Rule{Name: "noop", Check: func(Request) Decision { return Abstain }},
	)
	assert.NoError(t, chain.Authorize(Request{Actor: Actor{ID: "anyone"}}))
}

func TestChain_DenyWithoutErrorNamesRule(t *testing.T) {
	chain := NewChain(
		Rule{Name: "closed", Check: func(Request) Decision { return Deny }},
	)
	err := chain.Authorize(Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
