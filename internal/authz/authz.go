// Package authz decides what an actor may do to a resource.
package authz

import (
	"errors"
	"slices"

	"github.com/jensholdgaard/bluepenguin/internal/store"
)

var (
	ErrForbidden   = errors.New("forbidden")
	ErrNotEligible = errors.New("account not eligible")
)

// Kind names the resources ownership is checked against.
type Kind int

const (
	KindProfile Kind = iota
	KindItem
	KindAccount
	KindTransaction
)

func (k Kind) String() string {
	switch k {
	case KindProfile:
		return "profile"
	case KindItem:
		return "item"
	case KindAccount:
		return "account"
	case KindTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Actor is the authenticated caller.
type Actor struct {
	AccountID string
	Status    store.AccountStatus
	Suspended bool
}

// ActorFor builds the Actor for a stored account.
func ActorFor(a *store.Account) Actor {
	return Actor{AccountID: a.ID, Status: a.Status, Suspended: a.IsSuspended}
}

// Resource is something owned by one or more accounts. A transaction is
// owned by both its seller and buyer.
type Resource struct {
	Kind   Kind
	Owners []string
}

func Profile(accountID string) Resource {
	return Resource{Kind: KindProfile, Owners: []string{accountID}}
}

func Account(accountID string) Resource {
	return Resource{Kind: KindAccount, Owners: []string{accountID}}
}

func Item(it *store.Item) Resource {
	return Resource{Kind: KindItem, Owners: []string{it.SellerID}}
}

func Transaction(t *store.Transaction) Resource {
	return Resource{Kind: KindTransaction, Owners: []string{t.SellerID, t.BuyerID}}
}

// IsOwner reports whether the actor owns r.
func IsOwner(a Actor, r Resource) bool {
	return a.AccountID != "" && slices.Contains(r.Owners, a.AccountID)
}

// IsNotOwner reports whether the actor does not own r.
func IsNotOwner(a Actor, r Resource) bool {
	return !IsOwner(a, r)
}

// CanTrade reports whether the actor may bid, list or be chosen as a winner.
func CanTrade(a Actor) bool {
	return a.Status.CanTrade() && !a.Suspended
}

// IsSuperuser reports whether the actor may review moderation requests.
func IsSuperuser(a Actor) bool {
	return a.Status == store.StatusSuperuser
}
