// Package authz holds the single decision table that gates every card and
// transfer operation by principal role and resource ownership.
package authz

import (
	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/Dan9191/bank-cards/internal/models"
)

// Operation is a kind of action on an owned resource
type Operation string

const (
	CardCreate     Operation = "card:create"
	CardView       Operation = "card:view"
	CardList       Operation = "card:list"
	CardListAll    Operation = "card:list_all"
	CardBlock      Operation = "card:block"
	CardActivate   Operation = "card:activate"
	CardDelete     Operation = "card:delete"
	CardBalance    Operation = "card:balance"
	TransferCreate Operation = "transfer:create"
	TransferView   Operation = "transfer:view"
)

type rule struct {
	owner       bool // owner may perform it on own resources
	adminBypass bool // admin may perform it on any resource
	denyOwner   string
	denyOther   string
}

var rules = map[Operation]rule{
	CardCreate: {owner: true, adminBypass: true,
		denyOther: "Only admins can create cards for other users"},
	CardView: {owner: true, adminBypass: true,
		denyOther: "You don't have access to this card"},
	CardList: {owner: true, adminBypass: true,
		denyOther: "You don't have access to these cards"},
	CardListAll: {adminBypass: true,
		denyOwner: "Only admins can list all cards", denyOther: "Only admins can list all cards"},
	CardBlock: {owner: true, adminBypass: true,
		denyOther: "You don't have access to this card"},
	CardActivate: {adminBypass: true,
		denyOwner: "Only admins can activate cards", denyOther: "Only admins can activate cards"},
	CardDelete: {adminBypass: true,
		denyOwner: "Only admins can delete cards", denyOther: "Only admins can delete cards"},
	CardBalance: {owner: true, adminBypass: true,
		denyOther: "You don't have access to this card"},
	// Transfers move real balance and stay inside one account, so there is
	// no admin bypass.
	TransferCreate: {owner: true,
		denyOther: "You can only transfer between your own cards"},
	TransferView: {owner: true,
		denyOther: "You don't have access to this transfer"},
}

// Decision is the outcome of Decide
type Decision struct {
	Allowed bool
	Reason  string
}

// Err converts a denial into an authorization error, nil when allowed
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return errs.Authorization(d.Reason)
}

// Decide reports whether p may perform op on a resource owned by ownerID.
// It has no state and no side effects.
func Decide(p models.Principal, ownerID int64, op Operation) Decision {
	r, ok := rules[op]
	if !ok {
		return deny("unknown operation")
	}
	if p.ID <= 0 || (p.Role != models.RoleUser && p.Role != models.RoleAdmin) {
		return deny("unauthenticated principal")
	}

	if p.IsAdmin() && r.adminBypass {
		return allow()
	}
	if p.ID != ownerID {
		return deny(r.denyOther)
	}
	if !r.owner {
		return deny(r.denyOwner)
	}
	return allow()
}

// Check is Decide followed by Decision.Err
func Check(p models.Principal, ownerID int64, op Operation) error {
	return Decide(p, ownerID, op).Err()
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}
