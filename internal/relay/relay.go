// Package relay defines the narrow callback-surface contracts for the
// message relay / daemon: the Taker's outbound sends, and the inbound
// callbacks the relay invokes on both roles. The relay itself —
// network transport, nick addressing, message encryption — is an
// external collaborator; this package only types the boundary and,
// for wiring and tests, provides a minimal in-process Bus that
// dispatches directly instead of over a wire.
package relay

import "github.com/rawblock/joinmarket-core/pkg/models"

// AuthRequest is what a Taker sends makers to begin authorization:
// the chosen offer, the PoDLE commitment, its revelation, and the
// coinjoin amount.
type AuthRequest struct {
	Offer models.Offer
	Commitment string
	Revelation models.Revelation
	Amount int64
	KPHex string // taker's encryption pubkey, hex
}

// AuthResponse is a Maker's reply to an AuthRequest.
type AuthResponse struct {
	OK bool
	Reason string
	UTXOs map[models.Outpoint]models.UTXO
	AuthPub []byte
	CJAddr string
	ChangeAddr string
	BtcSig []byte
	MakerPK []byte
}

// UnsignedTxRequest carries the taker-assembled unsigned transaction to
// one maker, along with that maker's offer-info envelope.
type UnsignedTxRequest struct {
	TxHex string
	OfferInfo models.OfferInfo
}

// SigResponse is a maker's signature contribution.
type SigResponse struct {
	OK bool
	Reason string
	SigB64 []string // one base64 signature-script blob per signed input
}

// Relay is consumed by the Taker to reach makers through the relay's
// nick-addressed delivery.
type Relay interface {
	// SendAuthRequest dispatches one AuthRequest per counterparty in the
	// chosen orderbook: the PoDLE commitment and revelation are the same
	// for every recipient (it is only ever opened once), but req.Offer
	// differs per nick — each maker must see back the exact offer it
	// advertised, not a single shared one.
	SendAuthRequest(requests map[string]AuthRequest) error

	// SendUnsignedTx dispatches the unsigned transaction to one maker.
	SendUnsignedTx(nick string, req UnsignedTxRequest) error

	// Orderbook returns the relay's current view of advertised offers.
	Orderbook() ([]Entry, error)
}

// Entry mirrors orderbook.Entry without importing it, so this package
// has no dependency on the chooser/filter logic — just the wire shape.
type Entry struct {
	Counterparty string
	Offer models.Offer
}

// TakerEndpoint is implemented by the Taker; the relay invokes it as
// events arrive.
type TakerEndpoint interface {
	Initialize(orderbook []Entry) (bool, error)
	ReceiveUTXOs(responses map[string]AuthResponse) (bool, error)
	OnSig(nick string, sigB64 []string) (bool, error)
}

// MakerEndpoint is implemented by the Maker; the relay invokes it as
// events arrive.
type MakerEndpoint interface {
	OnAuthReceived(nick string, req AuthRequest) AuthResponse
	OnTxReceived(nick string, req UnsignedTxRequest) SigResponse
	OnTxUnconfirmed(nick string, txid string)
	OnTxConfirmed(nick string, txid string, confirmations int64)
}
