package relay

import (
	"fmt"
	"sync"
)

// Bus is a minimal in-process Relay: it dispatches directly to
// registered endpoints instead of going over a wire. It exists to
// exercise the Taker/Maker state machines in tests and in the reference
// cmd/coordinator wiring where a single process plays every role; a
// production deployment replaces it with a networked relay client
// implementing the same Relay interface.
type Bus struct {
	mu sync.Mutex
	makers map[string]MakerEndpoint
	book []Entry
	taker TakerEndpoint
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{makers: make(map[string]MakerEndpoint)}
}

// RegisterTaker attaches the Taker endpoint this bus delivers to.
func (b *Bus) RegisterTaker(t TakerEndpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taker = t
}

// RegisterMaker attaches a Maker under nick, and advertises its offers.
func (b *Bus) RegisterMaker(nick string, m MakerEndpoint, offers []Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.makers[nick] = m
	b.book = append(b.book, offers...)
}

func (b *Bus) Orderbook() ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.book))
	copy(out, b.book)
	return out, nil
}

// SendAuthRequest delivers each request to its named counterparty and
// hands every response back to the Taker's ReceiveUTXOs in one batch,
// mirroring receive_utxos' "for each (nick, ...)" aggregation.
func (b *Bus) SendAuthRequest(requests map[string]AuthRequest) error {
	b.mu.Lock()
	makers := make(map[string]MakerEndpoint, len(requests))
	for nick := range requests {
		if m, ok := b.makers[nick]; ok {
			makers[nick] = m
		}
	}
	taker := b.taker
	b.mu.Unlock()

	if taker == nil {
		return fmt.Errorf("relay: no taker registered")
	}

	responses := make(map[string]AuthResponse, len(makers))
	for nick, m := range makers {
		responses[nick] = m.OnAuthReceived(nick, requests[nick])
	}
	_, err := taker.ReceiveUTXOs(responses)
	return err
}

// SendUnsignedTx delivers the unsigned tx to one maker and relays its
// signature response back to the Taker's OnSig.
func (b *Bus) SendUnsignedTx(nick string, req UnsignedTxRequest) error {
	b.mu.Lock()
	m, ok := b.makers[nick]
	taker := b.taker
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("relay: unknown maker %s", nick)
	}
	if taker == nil {
		return fmt.Errorf("relay: no taker registered")
	}

	resp := m.OnTxReceived(nick, req)
	if !resp.OK {
		return fmt.Errorf("relay: maker %s rejected unsigned tx: %s", nick, resp.Reason)
	}
	_, err := taker.OnSig(nick, resp.SigB64)
	return err
}
