package maker

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/joinmarket-core/internal/fees"
	"github.com/rawblock/joinmarket-core/internal/relay"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// OnTxReceived implements "Authorized → Signed": parse the
// unsigned transaction, run verifyUnsignedTx (security-critical), and
// sign this Maker's inputs on success.
func (m *Maker) OnTxReceived(nick string, req relay.UnsignedTxRequest) relay.SigResponse {
	m.mu.RLock()
	order, ok := m.activeOrders[nick]
	m.mu.RUnlock()
	if !ok {
		return relay.SigResponse{OK: false, Reason: "malformed-input: no active order for nick"}
	}

	raw, err := hex.DecodeString(req.TxHex)
	if err != nil {
		return relay.SigResponse{OK: false, Reason: "malformed txhex"}
	}
	var txd wire.MsgTx
	if err := txd.Deserialize(bytes.NewReader(raw)); err != nil {
		return relay.SigResponse{OK: false, Reason: "malformed txhex"}
	}

	if err := m.verifyUnsignedTx(&txd, order.info); err != nil {
		return relay.SigResponse{OK: false, Reason: err.Error()}
	}

	sigs, err := m.buildSignatures(&txd, order.info)
	if err != nil {
		return relay.SigResponse{OK: false, Reason: err.Error()}
	}

	m.mu.Lock()
	order.state = OrderSigned
	m.mu.Unlock()

	return relay.SigResponse{OK: true, SigB64: sigs}
}

// verifyUnsignedTx is the single security-critical check standing
// between a Maker and losing money:
// every claimed input must actually be spent, and the cj/change
// outputs must carry exactly the values the Maker agreed to in
// offerinfo. No other input or output is inspected.
func (m *Maker) verifyUnsignedTx(txd *wire.MsgTx, info models.OfferInfo) error {
	txInputs := make(map[models.Outpoint]bool, len(txd.TxIn))
	for _, in := range txd.TxIn {
		txInputs[models.Outpoint{
				Txid: in.PreviousOutPoint.Hash.String(),
				Vout: in.PreviousOutPoint.Index,
		}] = true
	}
	for op := range info.UTXOs {
		if !txInputs[op] {
			return fmt.Errorf("policy-violation: our utxo %s is not spent by this transaction", op)
		}
	}

	cjScript, err := m.wallet.AddrToScript(info.CJAddr)
	if err != nil {
		return fmt.Errorf("malformed-input: cj_addr: %w", err)
	}
	changeScript, err := m.wallet.AddrToScript(info.ChangeAddr)
	if err != nil {
		return fmt.Errorf("malformed-input: change_addr: %w", err)
	}

	var totalIn int64
	for _, u := range info.UTXOs {
		totalIn += u.Value
	}
	realFee := fees.RealCJFee(info.Offer.OrderType, info.Offer.CJFee, info.Amount)
	wantChange := totalIn - info.Amount - info.Offer.TxFee + realFee

	cjCount, changeCount := 0, 0
	for _, out := range txd.TxOut {
		if bytes.Equal(out.PkScript, cjScript) {
			cjCount++
			if out.Value != info.Amount {
				return fmt.Errorf("policy-violation: wrong cj_amount: got %d want %d", out.Value, info.Amount)
			}
		}
		if bytes.Equal(out.PkScript, changeScript) {
			changeCount++
			if out.Value != wantChange {
				return fmt.Errorf("policy-violation: wrong change amount: got %d want %d", out.Value, wantChange)
			}
		}
	}
	if cjCount != 1 {
		return fmt.Errorf("policy-violation: expected exactly one cj output, found %d", cjCount)
	}
	if changeCount != 1 {
		return fmt.Errorf("policy-violation: expected exactly one change output, found %d", changeCount)
	}
	return nil
}
