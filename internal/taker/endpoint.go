package taker

import (
	"context"
	"fmt"

	"github.com/rawblock/joinmarket-core/internal/orderbook"
	"github.com/rawblock/joinmarket-core/internal/relay"
)

// Endpoint adapts a Taker to relay.TakerEndpoint. ReceiveUTXOs and
// OnSig already match the interface directly (see receive.go, sig.go);
// only Initialize needs a context threaded in and the resulting
// AuthRequests actually dispatched, so this wrapper exists solely for
// that one method.
type Endpoint struct {
	*Taker
	ctx context.Context
}

// NewEndpoint wraps t for registration with a relay.Relay (e.g.
// relay.Bus.RegisterTaker).
func NewEndpoint(ctx context.Context, t *Taker) *Endpoint {
	return &Endpoint{Taker: t, ctx: ctx}
}

// Initialize implements relay.TakerEndpoint: run the Taker's own
// Idle → Initializing transition, then dispatch one AuthRequest per
// chosen counterparty carrying the shared PoDLE commitment/revelation
// and this run's session identifier.
func (e *Endpoint) Initialize(book []relay.Entry) (bool, error) {
	obBook := make([]orderbook.Entry, len(book))
	for i, entry := range book {
		obBook[i] = orderbook.Entry{Counterparty: entry.Counterparty, Offer: entry.Offer}
	}

	ok, cjAmount, p, chosen, err := e.Taker.Initialize(e.ctx, obBook)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	kphex := e.Taker.KPHex()
	requests := make(map[string]relay.AuthRequest, len(chosen))
	for _, entry := range chosen {
		requests[entry.Counterparty] = relay.AuthRequest{
			Offer:      entry.Offer,
			Commitment: p.Commitment,
			Revelation: p.Revelation,
			Amount:     cjAmount,
			KPHex:      kphex,
		}
	}

	if err := e.Taker.relay.SendAuthRequest(requests); err != nil {
		return false, fmt.Errorf("taker: send_auth_request: %w", err)
	}
	return true, nil
}
