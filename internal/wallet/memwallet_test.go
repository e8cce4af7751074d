package wallet

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

func padHex(n int) string {
	return strings.Repeat("0", n)
}

func chainhashFromHex(t *testing.T, s string) *chainhash.Hash {
	t.Helper()
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		t.Fatalf("chainhash.NewHashFromStr: %v", err)
	}
	return h
}

func TestAddKeyAndPubkeyHasScript(t *testing.T) {
	w := NewMemWallet(&chaincfg.RegressionNetParams)
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("new priv: %v", err)
	}
	addr, err := w.AddKey(0, priv)
	if err != nil {
		t.Fatalf("AddKey: %v", err)
	}

	script, err := w.AddrToScript(addr)
	if err != nil {
		t.Fatalf("AddrToScript: %v", err)
	}

	ok, err := w.PubkeyHasScript(priv.PubKey().SerializeCompressed(), script)
	if err != nil {
		t.Fatalf("PubkeyHasScript: %v", err)
	}
	if !ok {
		t.Fatalf("expected pubkey to own its own derived script")
	}
}

func TestSelectUTXOsInsufficientFunds(t *testing.T) {
	w := NewMemWallet(&chaincfg.RegressionNetParams)
	priv, _ := btcec.NewPrivateKey()
	addr, _ := w.AddKey(0, priv)
	w.AddUTXO(models.UTXO{
		Outpoint: models.Outpoint{Txid: "11", Vout: 0},
		Address:  addr,
		Value:    1000,
	}, 0)

	if _, err := w.SelectUTXOs(0, 5000); err == nil {
		t.Fatalf("expected an error selecting more than the mixdepth holds")
	}
}

func TestSelectUTXOsSufficientFunds(t *testing.T) {
	w := NewMemWallet(&chaincfg.RegressionNetParams)
	priv, _ := btcec.NewPrivateKey()
	addr, _ := w.AddKey(0, priv)
	w.AddUTXO(models.UTXO{Outpoint: models.Outpoint{Txid: "11", Vout: 0}, Address: addr, Value: 60000}, 0)
	w.AddUTXO(models.UTXO{Outpoint: models.Outpoint{Txid: "22", Vout: 1}, Address: addr, Value: 40000}, 0)

	selected, err := w.SelectUTXOs(0, 70000)
	if err != nil {
		t.Fatalf("SelectUTXOs: %v", err)
	}
	var total int64
	for _, u := range selected {
		total += u.Value
	}
	if total < 70000 {
		t.Fatalf("expected selected utxos to cover the requested amount, got %d", total)
	}
}

func TestMaxMixdepthDefault(t *testing.T) {
	w := NewMemWallet(&chaincfg.RegressionNetParams)
	if got := w.MaxMixdepth(); got != DefaultMaxMixdepth {
		t.Fatalf("expected default max mixdepth %d, got %d", DefaultMaxMixdepth, got)
	}
}

func TestSignTxProducesWitness(t *testing.T) {
	w := NewMemWallet(&chaincfg.RegressionNetParams)
	priv, _ := btcec.NewPrivateKey()
	addr, _ := w.AddKey(0, priv)
	script, _ := w.AddrToScript(addr)

	txd := wire.NewMsgTx(2)
	prevHash := chainhashFromHex(t, "11"+padHex(62))
	txd.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, 0), nil, nil))
	txd.AddTxOut(wire.NewTxOut(50000, script))

	signed, err := w.SignTx(txd, map[int]SignInput{0: {Script: script, Amount: 60000}})
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	if len(signed.TxIn[0].Witness) != 2 {
		t.Fatalf("expected a 2-item p2wpkh witness, got %d items", len(signed.TxIn[0].Witness))
	}
}
