package memstore

import (
	"maps"
	"slices"

	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

type state struct {
	accounts     map[string]store.Account
	addresses    map[string]store.Address
	profiles     map[string]store.Profile
	items        map[string]store.Item
	bids         map[string]store.Bid
	transactions map[string]store.Transaction
	ratings      map[string]store.Rating
	reports      map[string]store.Report
	quits        map[string]store.QuitRequest
	applications map[string]store.UserApplication
	events       []event.Event
}

func newState() *state {
	return &state{
		accounts:     map[string]store.Account{},
		addresses:    map[string]store.Address{},
		profiles:     map[string]store.Profile{},
		items:        map[string]store.Item{},
		bids:         map[string]store.Bid{},
		transactions: map[string]store.Transaction{},
		ratings:      map[string]store.Rating{},
		reports:      map[string]store.Report{},
		quits:        map[string]store.QuitRequest{},
		applications: map[string]store.UserApplication{},
	}
}

// clone copies every table. Records are stored by value and items are
// copied through copyItem, so the clone shares nothing mutable.
func (s *state) clone() *state {
	c := &state{
		accounts:     maps.Clone(s.accounts),
		addresses:    maps.Clone(s.addresses),
		profiles:     maps.Clone(s.profiles),
		items:        make(map[string]store.Item, len(s.items)),
		bids:         maps.Clone(s.bids),
		transactions: maps.Clone(s.transactions),
		ratings:      maps.Clone(s.ratings),
		reports:      maps.Clone(s.reports),
		quits:        maps.Clone(s.quits),
		applications: maps.Clone(s.applications),
		events:       slices.Clone(s.events),
	}
	for id, it := range s.items {
		c.items[id] = copyItem(it)
	}
	return c
}

func copyItem(it store.Item) store.Item {
	it.ImageURLs = slices.Clone(it.ImageURLs)
	if it.WinningBidID != nil {
		id := *it.WinningBidID
		it.WinningBidID = &id
	}
	return it
}

func (s *state) deleteItem(id string) {
	delete(s.items, id)
	for bidID, b := range s.bids {
		if b.ItemID == id {
			s.deleteBid(bidID)
		}
	}
}

// deleteBid removes the bid and its transaction, and clears any item's
// reference to it.
func (s *state) deleteBid(id string) {
	delete(s.bids, id)
	for txID, t := range s.transactions {
		if t.BidID == id {
			delete(s.transactions, txID)
		}
	}
	for itemID, it := range s.items {
		if it.WinningBidID != nil && *it.WinningBidID == id {
			it.WinningBidID = nil
			s.items[itemID] = it
		}
	}
}

func (s *state) deleteAccount(id string) {
	delete(s.accounts, id)
	delete(s.addresses, id)
	delete(s.profiles, id)
	for itemID, it := range s.items {
		if it.SellerID == id {
			s.deleteItem(itemID)
		}
	}
	for bidID, b := range s.bids {
		if b.BidderID == id {
			s.deleteBid(bidID)
		}
	}
	for txID, t := range s.transactions {
		if t.SellerID == id || t.BuyerID == id {
			delete(s.transactions, txID)
		}
	}
	for rid, r := range s.ratings {
		if r.RaterID == id || r.RateeID == id {
			delete(s.ratings, rid)
		}
	}
	for rid, r := range s.reports {
		if r.ReporterID == id || r.ReporteeID == id {
			delete(s.reports, rid)
		}
	}
	for qid, q := range s.quits {
		if q.AccountID == id {
			delete(s.quits, qid)
		}
	}
	for aid, a := range s.applications {
		if a.AccountID == id {
			delete(s.applications, aid)
		}
	}
}

func (s *state) loadEvents(aggregateID string) []event.Event {
	var out []event.Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b event.Event) int { return a.Version - b.Version })
	return out
}

func (s *state) loadEventsByType(t event.Type) []event.Event {
	var out []event.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *state) nextVersion(aggregateID string) int {
	v := 0
	for _, e := range s.events {
		if e.AggregateID == aggregateID && e.Version > v {
			v = e.Version
		}
	}
	return v + 1
}
