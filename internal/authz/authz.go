// Package authz evaluates an ordered chain of authorization rules over an
// actor, an action, and a resource. The first rule to allow or deny wins;
// rules with no opinion defer to the next one.
package authz

import (
	"fmt"
	"time"
)

type Decision int

const (
	Abstain Decision = iota
	Allow
	Deny
)

type Actor struct {
	ID string
	// Elevated actors carry a capability that rules may treat as a bypass.
	Elevated bool
}

type Action string

type Request struct {
	Actor    Actor
	Action   Action
	Resource any
	Now      time.Time
}

// Rule is one named predicate. Denied is what the caller receives when
// Check yields Deny.
type Rule struct {
	Name   string
	Check  func(Request) Decision
	Denied error
}

type Chain struct {
	rules []Rule
}

func NewChain(rules ...Rule) *Chain {
	return &Chain{rules: rules}
}

// Authorize walks the chain in order. A chain where every rule abstains
// allows the request.
func (c *Chain) Authorize(req Request) error {
	for _, r := range c.rules {
		switch r.Check(req) {
		case Allow:
			return nil
		case Deny:
			if r.Denied != nil {
				return r.Denied
			}
			return fmt.Errorf("denied by rule %q", r.Name)
		}
	}
	return nil
}
