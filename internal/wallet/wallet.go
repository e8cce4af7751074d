// Package wallet defines the Wallet adapter contract and a reference
// in-memory implementation. The wallet itself is an external
// collaborator — UTXO custody, key derivation and final signing live
// outside this module's scope — so this package exists only to give
// the Taker/Maker state machines something concrete to compile and
// test against.
package wallet

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// SignInput is one entry of the {index: (script, amount)} mapping
// sign_tx takes in.
type SignInput struct {
	Script []byte
	Amount int64
}

// Wallet is the adapter Taker and Maker consume for everything to do
// with key custody.
type Wallet interface {
	// UTXOsByMixdepth returns every spendable utxo, grouped by mixdepth.
	UTXOsByMixdepth() (map[int][]models.UTXO, error)

	// SelectUTXOs greedily selects utxos from one mixdepth summing to at
	// least amount, for a non-sweep coinjoin.
	SelectUTXOs(mixdepth int, amount int64) (map[models.Outpoint]models.UTXO, error)

	// InternalAddr returns a fresh receive address within mixdepth, used
	// to resolve the INTERNAL destination sentinel.
	InternalAddr(mixdepth int) (string, error)

	// KeyFromAddr returns the private key controlling addr.
	KeyFromAddr(addr string) (*btcec.PrivateKey, error)

	// AddrToScript renders addr as its scriptPubKey.
	AddrToScript(addr string) ([]byte, error)

	// PubkeyHasScript reports whether pub's corresponding scriptPubKey
	// is script — the Maker-side auth check that a claimed utxo's owner
	// really controls the pubkey presented in the auth message.
	PubkeyHasScript(pub []byte, script []byte) (bool, error)

	// SignTx signs the named inputs of txd in place and returns it.
	SignTx(txd *wire.MsgTx, inputs map[int]SignInput) (*wire.MsgTx, error)

	// TxType reports the wallet's native signing style, "p2wpkh" or
	// "p2pkh". Offer ordertypes are chosen from POLICY.segwit, not from
	// this value.
	TxType() string

	// BalanceByMixdepth sums spendable value per mixdepth.
	BalanceByMixdepth() (map[int]int64, error)

	// Mixdepth returns this wallet's active/default mixdepth.
	Mixdepth() int

	// MaxMixdepth returns the highest valid mixdepth index; callers
	// rotating through mixdepths wrap via (m+1) mod (MaxMixdepth()+1).
	MaxMixdepth() int
}
