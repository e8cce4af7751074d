package taker

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/rawblock/joinmarket-core/internal/audit"
	"github.com/rawblock/joinmarket-core/internal/wallet"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

func serializeTxHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("taker: serialize tx: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// finalizeAndBroadcast implements `AwaitingSigs → Broadcast →
// AwaitingConfirm`: sign the taker's own inputs, pick a
// broadcaster per POLICY.tx_broadcast, register for confirmation
// before pushing the transaction, and push it so OnFinished
// eventually fires. The caller must hold t.mu.
func (t *Taker) finalizeAndBroadcast() (bool, error) {
	tx := t.unsignedTx.tx
	auditStore := t.audit
	runID := t.runID

	signInputs := make(map[int]wallet.SignInput)
	for idx, meta := range t.unsignedTx.inputs {
		if meta.owner == "" {
			signInputs[idx] = wallet.SignInput{Script: meta.script, Amount: meta.amount}
		}
	}
	signed, err := t.wallet.SignTx(tx, signInputs)
	if err != nil {
		return false, fmt.Errorf("taker: sign own inputs: %w", err)
	}
	t.unsignedTx.tx = signed
	tx = signed

	t.state = StateBroadcast

	broadcaster, err := chooseBroadcaster(t.policy.TxBroadcast, mapKeysSorted(t.pendingBroadcastPeers()))
	if err != nil {
		return false, err
	}
	log.Printf("taker: broadcasting via %s (mode=%s)", broadcaster, t.policy.TxBroadcast)

	ctx := context.Background()
	txid := tx.TxHash().String()
	waittime := t.waittimeMinutes
	onFinished := t.onFinished
	destination := t.destination

	unconfirmCb := func(seenTxid string) {
		recordRunFinish(ctx, auditStore, runID, true, seenTxid, "")
		if onFinished != nil {
			onFinished(true, "unconfirmed", waittime, &TxDetails{Txid: seenTxid})
		}
	}
	confirmCb := func(confirmedTxid string, confirmations int64) {
		recordRunFinish(ctx, auditStore, runID, true, confirmedTxid, "")
		if onFinished != nil {
			onFinished(true, "confirmed", waittime, &TxDetails{Txid: confirmedTxid, Confirmations: confirmations})
		}
	}

	// Notifications are armed before the transaction is pushed: if the
	// chain adapter observes it the instant it hits the mempool, the
	// watch must already be in place to catch it.
	if err := t.chain.AddTxNotify(ctx, txid, destination, unconfirmCb, confirmCb); err != nil {
		return false, fmt.Errorf("taker: add_tx_notify: %w", err)
	}

	var rawTx bytes.Buffer
	if err := tx.Serialize(&rawTx); err != nil {
		return false, fmt.Errorf("taker: serialize signed tx: %w", err)
	}

	ok, err := t.chain.PushTx(ctx, rawTx.Bytes())
	if err != nil || !ok {
		recordRunFinish(ctx, auditStore, runID, false, "", "push_tx_rejected")
		if onFinished != nil {
			onFinished(false, "", waittime, nil)
		}
		return false, fmt.Errorf("taker: push_tx rejected: %w", err)
	}

	t.state = StateAwaitingConfirm
	return true, nil
}

// recordRunFinish records a run's terminal outcome in the audit trail,
// if one is configured; a nil store or unset runID is a no-op, since
// not every caller configures one.
func recordRunFinish(ctx context.Context, auditStore *audit.Store, runID uuid.UUID, success bool, txid, failReason string) {
	if auditStore == nil || runID == uuid.Nil {
		return
	}
	if err := auditStore.FinishRun(ctx, runID, success, txid, failReason); err != nil {
		log.Printf("taker: audit finish_run: %v", err)
	}
}

// pendingBroadcastPeers is the set of makers whose signatures were
// accepted into this run (caller holds t.mu).
func (t *Taker) pendingBroadcastPeers() map[string]bool {
	out := make(map[string]bool, len(t.inFlight))
	for nick := range t.inFlight {
		out[nick] = true
	}
	return out
}

func mapKeysSorted(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// chooseBroadcaster picks who pushes the final transaction per
// POLICY.tx_broadcast. "self" is always the taker; "not-self"/"random-peer"
// name a counterparty for bookkeeping/logging, but the actual push
// still runs through the Taker's own Blockchain adapter below — the
// Relay contract has no delegated-broadcast call, so a
// deployment that wants a peer to push the raw tx wires that outside
// this adapter boundary.
func chooseBroadcaster(mode models.TxBroadcastMode, peers []string) (string, error) {
	switch mode {
	case models.BroadcastNotSelf, models.BroadcastRandomPeer:
		if len(peers) == 0 {
			return "self", nil
		}
		if mode == models.BroadcastNotSelf {
			return peers[0], nil
		}
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(peers))))
		if err != nil {
			return "", fmt.Errorf("taker: choose_broadcaster: %w", err)
		}
		return peers[idx.Int64()], nil
	default:
		return "self", nil
	}
}
