package maker

import "github.com/rawblock/joinmarket-core/pkg/models"

// OrderStrategy is the capability interface a concrete maker policy
// implements, replacing the abstract-method subclass hooks
// (create_my_orders, oid_to_order, on_tx_unconfirmed, on_tx_confirmed)
// of a class-based design: passed into Maker by composition, never by
// subclassing.
type OrderStrategy interface {
	// CreateMyOrders is invoked once, after wallet sync, to populate the
	// offerlist. An empty result is
	// fatal — the Maker has nothing to offer.
	CreateMyOrders() []models.Offer

	// OIDToOrder resolves an incoming (offer, amount) into the utxos,
	// cj address and change address this Maker will use to fill it
	//. ok=false rejects the authorization.
	OIDToOrder(offer models.Offer, amount int64) (utxos map[models.Outpoint]models.UTXO, cjAddr, changeAddr string, ok bool)

	// OnTxUnconfirmed and OnTxConfirmed are notification hooks a policy
	// may use for bookkeeping (e.g. rotating the filled order out of the
	// offerlist); neither affects the state machine's own transitions.
	OnTxUnconfirmed(nick string, txid string)
	OnTxConfirmed(nick string, txid string, confirmations int64)
}
