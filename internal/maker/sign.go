package maker

import (
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/joinmarket-core/internal/wallet"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// buildSignatures signs every input of txd whose outpoint is in
// info.UTXOs and serializes each signature as push(sig) push(pub) for
// legacy, plus push(scriptCode) for segwit ordertypes — the third item
// is always included for segwit offers for legacy-bot compatibility,
// so an older counterparty that only understands the 2-item form can
// still fall back to reconstructing it.
func (m *Maker) buildSignatures(txd *wire.MsgTx, info models.OfferInfo) ([]string, error) {
	clone := txd.Copy()

	inputs := make(map[int]wallet.SignInput)
	for idx, in := range clone.TxIn {
		op := models.Outpoint{Txid: in.PreviousOutPoint.Hash.String(), Vout: in.PreviousOutPoint.Index}
		u, ok := info.UTXOs[op]
		if !ok {
			continue
		}
		inputs[idx] = wallet.SignInput{Script: u.Script, Amount: u.Value}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("malformed-input: none of our utxos appear among the transaction's inputs")
	}

	signed, err := m.wallet.SignTx(clone, inputs)
	if err != nil {
		return nil, fmt.Errorf("maker: sign_tx: %w", err)
	}

	indices := make([]int, 0, len(inputs))
	for idx := range inputs {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]string, 0, len(indices))
	for _, idx := range indices {
		witness := signed.TxIn[idx].Witness
		if len(witness) != 2 {
			return nil, fmt.Errorf("maker: unexpected witness shape for input %d", idx)
		}
		sig, pub := witness[0], witness[1]

		var items [][]byte
		if info.Offer.OrderType.IsSegwit() {
			scriptCode := wallet.P2WPKHSigScript(pub)
			items = [][]byte{sig, pub, scriptCode}
		} else {
			items = [][]byte{sig, pub}
		}

		blob, err := serializeSigScript(items)
		if err != nil {
			return nil, err
		}
		out = append(out, base64.StdEncoding.EncodeToString(blob))
	}
	return out, nil
}

// serializeSigScript renders a sequence of push-only items as a raw
// script, the wire shape models.SigScript and its taker-side parser
// round-trip.
func serializeSigScript(items [][]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	for _, item := range items {
		builder.AddData(item)
	}
	return builder.Script()
}
