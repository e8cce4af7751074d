package models

// TxBroadcastMode selects who pushes the final transaction.
type TxBroadcastMode string

const (
	BroadcastSelf TxBroadcastMode = "self"
	BroadcastRandomPeer TxBroadcastMode = "random-peer"
	BroadcastNotSelf TxBroadcastMode = "not-self"
)

// Policy holds the enumerated POLICY config keys. It is populated by
// policy.FromEnv() (see internal/policy) by reading the environment
// directly: no ambient global, an explicit struct threaded through
// constructors instead.
type Policy struct {
	TakerUtxoRetries int // max PoDLE index range
	TakerUtxoAge int64
	TakerUtxoAmtPct int64
	MinimumMakers int
	Segwit bool
	TxBroadcast TxBroadcastMode
	MinCJAmount int64
	DustThreshold int64
	BitcoinDustThresh int64
	DefaultTxFee int64 // per-counterparty miner-fee estimate fallback
}
