package taker

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/joinmarket-core/internal/wallet"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

func TestToSigScript(t *testing.T) {
	sig, pub, scriptCode := []byte("sig"), []byte("pub"), []byte("scriptcode")

	legacy, err := toSigScript([][]byte{sig, pub})
	if err != nil || legacy.IsSegwit() {
		t.Fatalf("expected a 2-item legacy sig script, got %+v err=%v", legacy, err)
	}

	segwit, err := toSigScript([][]byte{sig, pub, scriptCode})
	if err != nil || !segwit.IsSegwit() {
		t.Fatalf("expected a 3-item segwit sig script, got %+v err=%v", segwit, err)
	}

	if _, err := toSigScript([][]byte{sig}); err == nil {
		t.Fatalf("expected a 1-item script to be rejected")
	}
}

// newWitnessInputTx builds a 1-input transaction spending prevScript,
// signed with priv against scriptCode, returning the tx and the raw
// (sig, pub) witness ready to embed in a 2-or-3-item sig script.
func newWitnessInputTx(t *testing.T, prevScript []byte, amount int64, scriptCode []byte, priv *btcec.PrivateKey) (*wire.MsgTx, []byte, []byte) {
	t.Helper()
	tx := wire.NewMsgTx(2)
	prevHash, err := chainhash.NewHashFromStr("11" + padHex64(62))
	if err != nil {
		t.Fatalf("chainhash: %v", err)
	}
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(amount-1000, prevScript))

	fetcher := txscript.NewCannedPrevOutputFetcher(prevScript, amount)
	hashCache := txscript.NewTxSigHashes(tx, fetcher)
	sig, err := txscript.RawTxInWitnessSignature(tx, hashCache, 0, amount, scriptCode, txscript.SigHashAll, priv)
	if err != nil {
		t.Fatalf("RawTxInWitnessSignature: %v", err)
	}
	return tx, sig, priv.PubKey().SerializeCompressed()
}

func padHex64(n int) string {
	out := ""
	for len(out) < n {
		out += "0"
	}
	return out[:n]
}

func TestApplySegwitSigNativeWitnessLeavesNoSignatureScript(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	priv, _ := btcec.NewPrivateKey()
	pub := priv.PubKey().SerializeCompressed()
	pkHash := btcutil.Hash160(pub)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	if err != nil {
		t.Fatalf("NewAddressWitnessPubKeyHash: %v", err)
	}
	prevScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}

	const amount = int64(100000)
	scriptCode := wallet.P2WPKHSigScript(pub)
	tx, sig, pubBytes := newWitnessInputTx(t, prevScript, amount, scriptCode, priv)

	ss := models.SigScript{Sig: sig, Pub: pubBytes, ScriptCode: scriptCode}
	meta := txInputMeta{script: prevScript, amount: amount}
	if err := applySegwitSig(tx, 0, meta, ss); err != nil {
		t.Fatalf("applySegwitSig: %v", err)
	}
	if len(tx.TxIn[0].Witness) != 2 {
		t.Fatalf("expected a 2-item witness, got %d", len(tx.TxIn[0].Witness))
	}
	if tx.TxIn[0].SignatureScript != nil {
		t.Fatalf("expected no scriptSig for a native-segwit prevout, got %x", tx.TxIn[0].SignatureScript)
	}
}

func TestApplySegwitSigP2SHBuildsRedeemScript(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	priv, _ := btcec.NewPrivateKey()
	pub := priv.PubKey().SerializeCompressed()
	pkHash := btcutil.Hash160(pub)

	witnessProgram, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(pkHash).Script()
	if err != nil {
		t.Fatalf("build witness program: %v", err)
	}
	scriptHash := btcutil.Hash160(witnessProgram)
	p2shAddr, err := btcutil.NewAddressScriptHashFromHash(scriptHash, params)
	if err != nil {
		t.Fatalf("NewAddressScriptHashFromHash: %v", err)
	}
	prevScript, err := txscript.PayToAddrScript(p2shAddr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}

	const amount = int64(100000)
	scriptCode := wallet.P2WPKHSigScript(pub)
	tx, sig, pubBytes := newWitnessInputTx(t, prevScript, amount, scriptCode, priv)

	ss := models.SigScript{Sig: sig, Pub: pubBytes, ScriptCode: scriptCode}
	meta := txInputMeta{script: prevScript, amount: amount}
	if err := applySegwitSig(tx, 0, meta, ss); err != nil {
		t.Fatalf("applySegwitSig: %v", err)
	}
	if len(tx.TxIn[0].Witness) != 2 {
		t.Fatalf("expected a 2-item witness, got %d", len(tx.TxIn[0].Witness))
	}

	wantRedeem, err := txscript.NewScriptBuilder().AddData(witnessProgram).Script()
	if err != nil {
		t.Fatalf("build expected redeem script: %v", err)
	}
	if string(tx.TxIn[0].SignatureScript) != string(wantRedeem) {
		t.Fatalf("expected scriptSig to push the witness program redeem script, got %x want %x", tx.TxIn[0].SignatureScript, wantRedeem)
	}
}

// TestApplySegwitSigFallbackReconstructsScriptCode exercises boundary
// scenario 6: a legacy bot submits a scriptCode that doesn't match
// what it actually signed with and the real reconstruction succeeds.
func TestApplySegwitSigFallbackReconstructsScriptCode(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	priv, _ := btcec.NewPrivateKey()
	pub := priv.PubKey().SerializeCompressed()
	pkHash := btcutil.Hash160(pub)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	if err != nil {
		t.Fatalf("NewAddressWitnessPubKeyHash: %v", err)
	}
	prevScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}

	const amount = int64(100000)
	realScriptCode := wallet.P2WPKHSigScript(pub)
	tx, sig, pubBytes := newWitnessInputTx(t, prevScript, amount, realScriptCode, priv)

	// The claimed scriptCode does not match what was actually signed;
	// applySegwitSig must fall back to reconstructing it from the
	// pubkey rather than rejecting outright.
	ss := models.SigScript{Sig: sig, Pub: pubBytes, ScriptCode: []byte{0x00}}
	meta := txInputMeta{script: prevScript, amount: amount}
	if err := applySegwitSig(tx, 0, meta, ss); err != nil {
		t.Fatalf("expected the scriptCode-reconstruction fallback to verify, got %v", err)
	}
}

func TestApplySegwitSigRejectsBadSignature(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	priv, _ := btcec.NewPrivateKey()
	pub := priv.PubKey().SerializeCompressed()
	pkHash := btcutil.Hash160(pub)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	if err != nil {
		t.Fatalf("NewAddressWitnessPubKeyHash: %v", err)
	}
	prevScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}

	const amount = int64(100000)
	otherPriv, _ := btcec.NewPrivateKey()
	tx, sig, _ := newWitnessInputTx(t, prevScript, amount, wallet.P2WPKHSigScript(pub), otherPriv)

	ss := models.SigScript{Sig: sig, Pub: pub, ScriptCode: []byte{0x00}}
	meta := txInputMeta{script: prevScript, amount: amount}
	if err := applySegwitSig(tx, 0, meta, ss); err == nil {
		t.Fatalf("expected a signature from the wrong key to fail verification")
	}
}
