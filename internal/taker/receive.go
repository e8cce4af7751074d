package taker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/rawblock/joinmarket-core/internal/fees"
	"github.com/rawblock/joinmarket-core/internal/relay"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// ReceiveUTXOs implements `AwaitingUtxos → AwaitingSigs`:
// validate every maker's auth response, assemble the unsigned
// transaction once enough makers have checked out, and hand it to each
// of them for signing.
func (t *Taker) ReceiveUTXOs(responses map[string]relay.AuthResponse) (bool, error) {
	if t.isAborted() {
		return false, ErrAborted
	}

	t.mu.Lock()
	if t.state != StateAwaitingUtxos {
		t.mu.Unlock()
		return false, fmt.Errorf("taker: receive_utxos: not awaiting utxos")
	}
	offersByNick := t.offersByNick
	inFlight := make(map[string]inFlightOrder, len(t.inFlight))
	for k, v := range t.inFlight {
		inFlight[k] = v
	}
	t.mu.Unlock()

	ctx := context.Background()
	for nick, resp := range responses {
		offer, known := offersByNick[nick]
		if !known {
			continue
		}
		if !resp.OK {
			continue
		}
		if err := t.verifyAuthResponse(ctx, offer, resp); err != nil {
			if strings.HasPrefix(err.Error(), "policy-violation") {
				t.markIgnored(nick)
			}
			continue
		}
		inFlight[nick] = inFlightOrder{utxos: resp.UTXOs, cjAddr: resp.CJAddr, changeAddr: resp.ChangeAddr}
	}

	if len(inFlight) < t.policy.MinimumMakers {
		return false, fmt.Errorf("not-enough-makers: %d responded, need %d", len(inFlight), t.policy.MinimumMakers)
	}

	return t.assembleAndSend(inFlight)
}

// verifyAuthResponse checks a maker's ioauth reply and its ECDSA auth
// signature over the session kphex, mirroring the Maker-side checks in internal/maker/maker.go
// OnAuthReceived but from the other direction: the taker must be
// convinced makerpub really controls the utxo it used to sign the
// session digest.
//
// Failures are tagged by taxonomy: a "malformed-input"/"auth-failed"
// error is a local reject only. Cryptographic failures can be a
// transient hiccup rather than malice, and an unconfirmed/spent claimed
// utxo can just mean the maker's view of the chain is briefly behind
// the taker's, so neither blacklists the nick. A "policy-violation"
// error (bad cj_addr/change_addr syntax) marks the nick malicious and
// the caller adds it to the ignored list.
func (t *Taker) verifyAuthResponse(ctx context.Context, offer models.Offer, resp relay.AuthResponse) error {
	if len(resp.UTXOs) == 0 || resp.CJAddr == "" || resp.ChangeAddr == "" {
		return fmt.Errorf("malformed-input: incomplete auth response")
	}

	if _, err := t.wallet.AddrToScript(resp.CJAddr); err != nil {
		return fmt.Errorf("policy-violation: invalid cj_addr: %w", err)
	}
	if _, err := t.wallet.AddrToScript(resp.ChangeAddr); err != nil {
		return fmt.Errorf("policy-violation: invalid change_addr: %w", err)
	}

	authOutpoint := models.FirstOutpointSorted(resp.UTXOs)
	authUTXO := resp.UTXOs[authOutpoint]

	pub, err := parseCompressedPubkey(resp.MakerPK)
	if err != nil {
		return fmt.Errorf("auth-failed: malformed makerpub: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(resp.BtcSig)
	if err != nil {
		return fmt.Errorf("auth-failed: malformed btc_sig: %w", err)
	}

	// The signed message is sha256(kphex), the same taker session
	// identifier sent in the AuthRequest (internal/maker/maker.go
	// OnAuthReceived) — recomputed from this run's own state rather
	// than trusted from anything echoed back by the maker.
	msgDigest := sha256Sum(t.KPHex())
	if !sig.Verify(msgDigest[:], pub) {
		return fmt.Errorf("auth-failed: btc_sig does not verify against makerpub")
	}

	hasScript, err := t.wallet.PubkeyHasScript(resp.AuthPub, authUTXO.Script)
	if err != nil || !hasScript {
		return fmt.Errorf("auth-failed: authpub does not own the claimed auth utxo")
	}

	outpoints := make([]models.Outpoint, 0, len(resp.UTXOs))
	for op := range resp.UTXOs {
		outpoints = append(outpoints, op)
	}
	records, err := t.chain.QueryUTXOSet(ctx, outpoints, false)
	if err != nil {
		return fmt.Errorf("auth-failed: query_utxo_set: %w", err)
	}
	for i, rec := range records {
		if rec == nil {
			return fmt.Errorf("auth-failed: claimed utxo %s is unconfirmed or spent", outpoints[i])
		}
	}
	return nil
}

// assembleAndSend builds the coinjoin transaction from the taker's own
// inputs/outputs plus every accepted maker's, then dispatches it to
// each maker for signing.
func (t *Taker) assembleAndSend(inFlight map[string]inFlightOrder) (bool, error) {
	t.mu.Lock()
	cjAmount := t.cjAmount
	destination := t.destination
	takerInputs := t.inputs
	offersByNick := t.offersByNick
	t.mu.Unlock()

	var makerTxFeeTotal, cjFeeTotal int64
	var inputs []txInputMeta
	var outputs []txOutputMeta

	nicks := make([]string, 0, len(inFlight))
	for nick := range inFlight {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)

	acceptedMakers := make(map[string]inFlightOrder, len(nicks))
	for _, nick := range nicks {
		order := inFlight[nick]
		offer := offersByNick[nick]

		var makerIn int64
		makerInputs := make([]txInputMeta, 0, len(order.utxos))
		for op, u := range order.utxos {
			makerInputs = append(makerInputs, txInputMeta{outpoint: op, owner: nick, script: u.Script, amount: u.Value})
			makerIn += u.Value
		}

		realFee := fees.RealCJFee(offer.OrderType, offer.CJFee, cjAmount)
		makerChange := fees.MakerChange(makerIn, cjAmount, offer.TxFee, realFee)
		if makerChange < t.policy.DustThreshold {
			// A maker whose advertised fee terms would leave it with
			// sub-dust change is either broken or adversarial;
			// exclude it rather than build a transaction that burns
			// its output to fees without its consent.
			t.markIgnored(nick)
			continue
		}

		inputs = append(inputs, makerInputs...)
		outputs = append(outputs, txOutputMeta{addr: order.cjAddr, value: cjAmount})
		outputs = append(outputs, txOutputMeta{addr: order.changeAddr, value: makerChange})
		makerTxFeeTotal += offer.TxFee
		cjFeeTotal += realFee
		acceptedMakers[nick] = order
	}

	if len(acceptedMakers) < t.policy.MinimumMakers {
		return false, fmt.Errorf("not-enough-makers: %d survived dust/fee checks, need %d", len(acceptedMakers), t.policy.MinimumMakers)
	}

	var takerIn int64
	for op, u := range takerInputs {
		inputs = append(inputs, txInputMeta{outpoint: op, owner: "", script: u.Script, amount: u.Value})
		takerIn += u.Value
	}

	estimatedFee := t.policy.DefaultTxFee * int64(1+len(acceptedMakers))
	takerTxFeeShare := fees.TakerTxFeeShare(estimatedFee, makerTxFeeTotal)
	takerChange := fees.TakerChange(takerIn, cjAmount, cjFeeTotal, takerTxFeeShare)
	if takerChange < -1 {
		return false, fmt.Errorf("fatal: coinjoin fee exceeds taker's inputs (short by %d sats)", -takerChange)
	}

	outputs = append(outputs, txOutputMeta{addr: destination, value: cjAmount})

	var takerChangeAddr string
	if takerChange > t.policy.BitcoinDustThresh {
		addr, err := t.wallet.InternalAddr(t.mixdepth)
		if err != nil {
			return false, fmt.Errorf("taker: internal_addr for change: %w", err)
		}
		takerChangeAddr = addr
		outputs = append(outputs, txOutputMeta{addr: addr, value: takerChange})
	}
	// Otherwise takerChange is in [-1, BitcoinDustThresh]: too small to
	// be worth a dedicated output, so it is silently absorbed into the
	// miner fee.

	assembled, err := buildUnsignedTx(inputs, outputs, t.wallet.AddrToScript)
	if err != nil {
		return false, err
	}

	indicesByNick := make(map[string][]int, len(acceptedMakers))
	for idx, in := range assembled.inputs {
		if in.owner != "" {
			indicesByNick[in.owner] = append(indicesByNick[in.owner], idx)
		}
	}

	txHex, err := serializeTxHex(assembled.tx)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	t.state = StateAwaitingSigs
	t.inFlight = acceptedMakers
	t.makerTxFeeTotal = makerTxFeeTotal
	t.cjFeeTotal = cjFeeTotal
	t.unsignedTx = assembled
	t.takerChangeAddr = takerChangeAddr
	t.pendingSigs = make(map[string]bool, len(acceptedMakers))
	for nick := range acceptedMakers {
		t.pendingSigs[nick] = true
	}
	t.inputIndicesByNick = indicesByNick
	relayClient := t.relay
	t.mu.Unlock()

	for nick, order := range acceptedMakers {
		offer := offersByNick[nick]
		req := relay.UnsignedTxRequest{
			TxHex: txHex,
			OfferInfo: models.OfferInfo{
				OID:        offer.OID,
				Offer:      offer,
				UTXOs:      order.utxos,
				CJAddr:     order.cjAddr,
				ChangeAddr: order.changeAddr,
				Amount:     cjAmount,
			},
		}
		if err := relayClient.SendUnsignedTx(nick, req); err != nil {
			t.markIgnored(nick)
		}
		if t.isAborted() {
			return false, ErrAborted
		}
	}

	return true, nil
}
