package taker

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/joinmarket-core/internal/wallet"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// OnSig implements `AwaitingSigs → Broadcast`: absorb one
// maker's signature contribution, verify every one of its inputs
// against the unsigned transaction, and once every accepted maker has
// replied, self-sign and broadcast.
func (t *Taker) OnSig(nick string, sigB64 []string) (bool, error) {
	if t.isAborted() {
		return false, ErrAborted
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateAwaitingSigs {
		return false, fmt.Errorf("taker: on_sig: not awaiting signatures")
	}
	if !t.pendingSigs[nick] {
		return false, fmt.Errorf("taker: on_sig: unexpected signature from %s", nick)
	}
	indices, ok := t.inputIndicesByNick[nick]
	if !ok || len(indices) != len(sigB64) {
		return t.rejectSignature(nick, fmt.Errorf("malformed-input: %s returned %d signatures for %d inputs", nick, len(sigB64), len(indices)))
	}

	tx := t.unsignedTx.tx
	for i, idx := range indices {
		meta := t.unsignedTx.inputs[idx]

		raw, err := base64.StdEncoding.DecodeString(sigB64[i])
		if err != nil {
			return t.rejectSignature(nick, fmt.Errorf("malformed-input: %s: bad base64 signature encoding", nick))
		}
		items, err := parseSigScriptItems(raw)
		if err != nil {
			return t.rejectSignature(nick, fmt.Errorf("policy-violation: %s: %w", nick, err))
		}
		ss, err := toSigScript(items)
		if err != nil {
			return t.rejectSignature(nick, fmt.Errorf("policy-violation: %s: %w", nick, err))
		}

		if !ss.IsSegwit() {
			if err := applyLegacySig(tx, idx, meta, ss); err != nil {
				tx.TxIn[idx].SignatureScript = nil
				return t.rejectSignature(nick, fmt.Errorf("policy-violation: %s: signature does not verify: %w", nick, err))
			}
			continue
		}

		if err := applySegwitSig(tx, idx, meta, ss); err != nil {
			tx.TxIn[idx].SignatureScript = nil
			tx.TxIn[idx].Witness = nil
			return t.rejectSignature(nick, fmt.Errorf("policy-violation: %s: signature does not verify: %w", nick, err))
		}
	}

	delete(t.pendingSigs, nick)
	if len(t.pendingSigs) > 0 {
		return true, nil
	}
	return t.finalizeAndBroadcast()
}

// rejectSignature blacklists nick and aborts this run the same way
// markIgnored does, without re-acquiring t.mu (the caller already
// holds it).
func (t *Taker) rejectSignature(nick string, err error) (bool, error) {
	t.ignored[nick] = true
	delete(t.pendingSigs, nick)
	log.Printf("taker: marking %s as malicious, added to ignored list", nick)
	return false, err
}

// applyLegacySig verifies a 2-item (sig, pub) signature script against
// the input's real scriptPubKey and, on success, installs it.
func applyLegacySig(tx *wire.MsgTx, idx int, meta txInputMeta, ss models.SigScript) error {
	hash, err := txscript.CalcSignatureHash(meta.script, txscript.SigHashAll, tx, idx)
	if err != nil {
		return fmt.Errorf("calc signature hash: %w", err)
	}
	if err := verifyECDSA(ss.Sig, ss.Pub, hash); err != nil {
		return err
	}
	items := [][]byte{ss.Sig, ss.Pub}
	blob, err := serializeItems(items)
	if err != nil {
		return fmt.Errorf("rebuild signature script: %w", err)
	}
	tx.TxIn[idx].SignatureScript = blob
	return nil
}

// applySegwitSig verifies a 3-item (sig, pub, scriptCode) signature
// against the BIP143 witness sighash. The maker-provided scriptCode is
// tried first; if that fails, a legacy bot's scriptCode is
// reconstructed from the pubkey and retried, matching
// pubkey_to_p2pkh_script fallback behavior. Once verified, the witness
// is always set; a native-segwit prevout leaves SignatureScript empty,
// while a P2SH-P2WPKH prevout additionally needs its witness-program
// redeem script pushed into SignatureScript.
func applySegwitSig(tx *wire.MsgTx, idx int, meta txInputMeta, ss models.SigScript) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(meta.script, meta.amount)
	hashCache := txscript.NewTxSigHashes(tx, fetcher)

	verifyWith := func(scriptCode []byte) error {
		hash, err := txscript.CalcWitnessSigHash(scriptCode, hashCache, txscript.SigHashAll, tx, idx, meta.amount)
		if err != nil {
			return fmt.Errorf("calc witness sig hash: %w", err)
		}
		return verifyECDSA(ss.Sig, ss.Pub, hash)
	}

	err := verifyWith(ss.ScriptCode)
	if err != nil {
		fallback := wallet.P2WPKHSigScript(ss.Pub)
		if fallbackErr := verifyWith(fallback); fallbackErr != nil {
			return err
		}
	}

	tx.TxIn[idx].Witness = wire.TxWitness{ss.Sig, ss.Pub}

	if txscript.GetScriptClass(meta.script) == txscript.ScriptHashTy {
		witnessProgram, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).
			AddData(btcutil.Hash160(ss.Pub)).
			Script()
		if err != nil {
			return fmt.Errorf("build witness program: %w", err)
		}
		redeem, err := txscript.NewScriptBuilder().AddData(witnessProgram).Script()
		if err != nil {
			return fmt.Errorf("build p2sh redeem scriptSig: %w", err)
		}
		tx.TxIn[idx].SignatureScript = redeem
	} else {
		tx.TxIn[idx].SignatureScript = nil
	}
	return nil
}

// verifyECDSA checks sigWithHashType (a DER signature with its trailing
// sighash-type byte) against hash under pub.
func verifyECDSA(sigWithHashType, pub, hash []byte) error {
	if len(sigWithHashType) < 2 {
		return fmt.Errorf("signature too short")
	}
	sig, err := ecdsa.ParseDERSignature(sigWithHashType[:len(sigWithHashType)-1])
	if err != nil {
		return fmt.Errorf("parse der signature: %w", err)
	}
	pubkey, err := btcec.ParsePubKey(pub)
	if err != nil {
		return fmt.Errorf("parse pubkey: %w", err)
	}
	if !sig.Verify(hash, pubkey) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// toSigScript converts the tokenized wire items into the tagged
// signature-script union: 2 items is legacy (sig, pub), 3 is segwit
// (sig, pub, scriptCode).
func toSigScript(items [][]byte) (models.SigScript, error) {
	switch len(items) {
	case 2:
		return models.SigScript{Sig: items[0], Pub: items[1]}, nil
	case 3:
		return models.SigScript{Sig: items[0], Pub: items[1], ScriptCode: items[2]}, nil
	default:
		return models.SigScript{}, fmt.Errorf("signature script has %d items, want 2 or 3", len(items))
	}
}

// parseSigScriptItems tokenizes a raw signature-script blob into its
// pushed-data items, rejecting anything that isn't a plain data push.
func parseSigScriptItems(raw []byte) ([][]byte, error) {
	var items [][]byte
	tok := txscript.MakeScriptTokenizer(0, raw)
	for tok.Next() {
		data := tok.Data()
		if len(data) == 0 {
			return nil, fmt.Errorf("signature script contains a non-data or empty push")
		}
		items = append(items, data)
	}
	if err := tok.Err(); err != nil {
		return nil, fmt.Errorf("malformed signature script: %w", err)
	}
	return items, nil
}

// serializeItems renders a sequence of push-only items as a raw script.
func serializeItems(items [][]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	for _, item := range items {
		builder.AddData(item)
	}
	return builder.Script()
}

func sha256Sum(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func parseCompressedPubkey(b []byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(b)
}
