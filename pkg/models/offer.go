package models

// OrderType encodes both the fee type (relative/absolute) and the
// signing style (legacy/segwit) a Maker's offer uses.
type OrderType string

const (
	OrderTypeRelOffer   OrderType = "reloffer"
	OrderTypeAbsOffer   OrderType = "absoffer"
	OrderTypeSwRelOffer OrderType = "swreloffer"
	OrderTypeAbsOfferSw OrderType = "swabsoffer"
)

// IsSegwit reports whether this ordertype implies segwit-style signing
// for the maker advertising it.
func (t OrderType) IsSegwit() bool {
	return t == OrderTypeSwRelOffer || t == OrderTypeAbsOfferSw
}

// IsRelative reports whether cjfee is a fraction (true) or a flat
// satoshi amount (false).
func (t OrderType) IsRelative() bool {
	return t == OrderTypeRelOffer || t == OrderTypeSwRelOffer
}

// Offer is a single advertised Maker order.
type Offer struct {
	OID          int64
	OrderType    OrderType
	MinSize      int64
	MaxSize      int64
	TxFee        int64   // satoshis, maker's contribution to the miner fee
	CJFee        float64 // fraction (relative) or satoshis (absolute), see OrderType
	Counterparty string  // nickname
}

// AllowedTypesFor returns the set of ordertypes a taker will consider,
// depending on whether segwit offers are in use (POLICY.segwit).
func AllowedTypesFor(segwit bool) []OrderType {
	if segwit {
		return []OrderType{OrderTypeSwRelOffer, OrderTypeAbsOfferSw}
	}
	return []OrderType{OrderTypeRelOffer, OrderTypeAbsOffer}
}

// OfferInfo is the Maker-side authoritative record of what has been
// agreed to for one active order.
// All of verify_unsigned_tx is checked against this, never against
// anything re-derived from an incoming message.
type OfferInfo struct {
	OID        int64
	Offer      Offer
	UTXOs      map[Outpoint]UTXO
	CJAddr     string
	ChangeAddr string
	Amount     int64
}
