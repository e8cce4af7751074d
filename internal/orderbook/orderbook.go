// Package orderbook implements the orderbook filter and chooser
// contract narrowing a relay-supplied set of Maker
// offers down to the N a Taker will actually deal with.
package orderbook

import "github.com/rawblock/joinmarket-core/pkg/models"

// Entry is one advertised offer as seen in the orderbook, tagged with
// the nickname that posted it.
type Entry struct {
	Counterparty string
	Offer models.Offer
}

// Book is the relay-maintained set of currently advertised offers,
// keyed by (counterparty, oid) the way jmdaemon tracks them.
type Book struct {
	entries map[string]map[int64]Entry
}

// NewBook returns an empty orderbook.
func NewBook() *Book {
	return &Book{entries: make(map[string]map[int64]Entry)}
}

// Add records or replaces one counterparty's offer.
func (b *Book) Add(counterparty string, offer models.Offer) {
	if b.entries[counterparty] == nil {
		b.entries[counterparty] = make(map[int64]Entry)
	}
	b.entries[counterparty][offer.OID] = Entry{Counterparty: counterparty, Offer: offer}
}

// Remove drops one counterparty's offer, e.g. on !orderbook nick leave.
func (b *Book) Remove(counterparty string, oid int64) {
	if m, ok := b.entries[counterparty]; ok {
		delete(m, oid)
		if len(m) == 0 {
			delete(b.entries, counterparty)
		}
	}
}

// All flattens the book into a slice, in no particular order.
func (b *Book) All() []Entry {
	out := make([]Entry, 0)
	for _, m := range b.entries {
		for _, e := range m {
			out = append(out, e)
		}
	}
	return out
}
