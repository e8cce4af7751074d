package taker

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// takerPendingSentinel marks a taker-owned input's scriptSig in the
// unsigned transaction handed to makers. Makers never inspect
// inputs other than their own, so this only needs to be recognizable to the
// Taker itself at self-sign time.
var takerPendingSentinel = []byte("jm-core:taker-pending")

// txInputMeta is the per-index bookkeeping the Taker keeps alongside an
// assembled wire.MsgTx: which outpoint an index spends, who owns it
// ("" for the taker itself, otherwise a maker's nick), and the data
// needed to verify or produce its signature.
type txInputMeta struct {
	outpoint models.Outpoint
	owner    string
	script   []byte
	amount   int64
}

// txOutputMeta is one output destined for the unsigned transaction,
// before shuffling.
type txOutputMeta struct {
	addr  string
	value int64
}

// assembledTx bundles the unsigned wire.MsgTx with the per-input
// ownership metadata OnSig and self-sign need; tx.inputs is always
// parallel to tx.tx.TxIn.
type assembledTx struct {
	tx     *wire.MsgTx
	inputs []txInputMeta
}

// cryptoShuffle performs a uniform Fisher-Yates shuffle using
// crypto/rand rather than math/rand,
// so the resulting input/output ordering leaks no information about
// which party controls which position beyond what the chain itself
// reveals.
func cryptoShuffle[T any](items []T) error {
	for i := len(items) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("taker: shuffle: %w", err)
		}
		j := int(jBig.Int64())
		items[i], items[j] = items[j], items[i]
	}
	return nil
}

// buildUnsignedTx assembles the coinjoin transaction from the taker's
// own inputs/output and every accepted maker's inputs/outputs,
// shuffling inputs and outputs independently.
func buildUnsignedTx(inputs []txInputMeta, outputs []txOutputMeta, addrToScript func(string) ([]byte, error)) (*assembledTx, error) {
	if err := cryptoShuffle(inputs); err != nil {
		return nil, err
	}
	if err := cryptoShuffle(outputs); err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.outpoint.Txid)
		if err != nil {
			return nil, fmt.Errorf("taker: build_unsigned_tx: bad txid %q: %w", in.outpoint.Txid, err)
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(hash, in.outpoint.Vout), nil, nil)
		if in.owner == "" {
			// Sentinel placeholder for our own not-yet-signed inputs;
			// cleared at self-sign time.
			txIn.SignatureScript = takerPendingSentinel
		}
		tx.AddTxIn(txIn)
	}

	for _, out := range outputs {
		script, err := addrToScript(out.addr)
		if err != nil {
			return nil, fmt.Errorf("taker: build_unsigned_tx: address %q: %w", out.addr, err)
		}
		tx.AddTxOut(wire.NewTxOut(out.value, script))
	}

	return &assembledTx{tx: tx, inputs: inputs}, nil
}
