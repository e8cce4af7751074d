// Package taker implements the Taker state machine: schedule-driven
// coinjoin initiation, counterparty UTXO intake, and signature
// collection/broadcast.
package taker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/google/uuid"
	"github.com/rawblock/joinmarket-core/internal/audit"
	"github.com/rawblock/joinmarket-core/internal/chain"
	"github.com/rawblock/joinmarket-core/internal/fees"
	"github.com/rawblock/joinmarket-core/internal/orderbook"
	"github.com/rawblock/joinmarket-core/internal/podle"
	"github.com/rawblock/joinmarket-core/internal/relay"
	"github.com/rawblock/joinmarket-core/internal/wallet"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// State is the Taker's top-level lifecycle state.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateAwaitingUtxos
	StateAwaitingSigs
	StateBroadcast
	StateAwaitingConfirm
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateAwaitingUtxos:
		return "awaiting_utxos"
	case StateAwaitingSigs:
		return "awaiting_sigs"
	case StateBroadcast:
		return "broadcast"
	case StateAwaitingConfirm:
		return "awaiting_confirm"
	default:
		return "unknown"
	}
}

// ErrAborted is returned by any entry point once Abort has been called.
var ErrAborted = errors.New("taker: user aborted")

// OnFinishedFunc is invoked once a schedule entry (or the whole
// schedule) concludes. fromtx is an overloaded status string:
// "unconfirmed" when the transaction is first seen, "confirmed" once it
// confirms, or "" when the push is rejected (success false) or the
// schedule has no entries left (success true).
type OnFinishedFunc func(success bool, fromtx string, waittimeMinutes float64, txdetails *TxDetails)

// TxDetails carries the confirmed transaction's identity back to the
// schedule runner.
type TxDetails struct {
	Txid string
	Confirmations int64
}

// inFlightOrder is the per-maker bookkeeping the Taker keeps between
// ReceiveUTXOs and OnSig.
type inFlightOrder struct {
	utxos map[models.Outpoint]models.UTXO
	cjAddr string
	changeAddr string
}

// Taker drives one schedule to completion. Construct one per run;
// reuse across schedule entries by calling Initialize repeatedly.
type Taker struct {
	mu sync.Mutex

	wallet wallet.Wallet
	chain chain.Blockchain
	store *podle.Store
	relay relay.Relay
	policy models.Policy
	chosen orderbook.Chooser
	audit *audit.Store
	runID uuid.UUID

	schedule []models.ScheduleEntry
	scheduleIndex int
	onFinished OnFinishedFunc
	ignored map[string]bool
	honestMakers map[string]bool
	honestOnly bool
	maxCJFeeAbs int64
	maxCJFeeRel float64

	aborted bool

	state State
	cjAmount int64
	mixdepth int
	destination string
	commitment string
	revelation models.Revelation
	inputs map[models.Outpoint]models.UTXO
	inputPrivs map[models.Outpoint]*btcec.PrivateKey
	makerTxFeeTotal int64
	cjFeeTotal int64
	nonrespondants map[string]bool
	inFlight map[string]inFlightOrder
	offersByNick map[string]models.Offer
	unsignedTx *assembledTx
	takerChangeAddr string
	waittimeMinutes float64

	pendingSigs map[string]bool
	inputIndicesByNick map[string][]int
	kphex string
}

// Config bundles a Taker's fixed collaborators as an explicit context
// value, threaded through the constructor rather than read from an
// ambient global.
type Config struct {
	Wallet wallet.Wallet
	Chain chain.Blockchain
	Store *podle.Store
	Relay relay.Relay
	Policy models.Policy
	Chooser orderbook.Chooser
	Schedule []models.ScheduleEntry
	OnFinished OnFinishedFunc
	HonestMakers map[string]bool
	MaxCJFeeAbs int64
	MaxCJFeeRel float64
	// Audit persists run starts/finishes and commitment usage; nil
	// disables the audit trail entirely (e.g. no Postgres configured).
	Audit *audit.Store
}

// New constructs an idle Taker for the given schedule.
func New(cfg Config) *Taker {
	chooser := cfg.Chooser
	if chooser == nil {
		chooser = orderbook.CheapestChooser
	}
	return &Taker{
		wallet: cfg.Wallet,
		chain: cfg.Chain,
		store: cfg.Store,
		relay: cfg.Relay,
		policy: cfg.Policy,
		chosen: chooser,
		audit: cfg.Audit,
		schedule: cfg.Schedule,
		onFinished: cfg.OnFinished,
		ignored: make(map[string]bool),
		honestMakers: cfg.HonestMakers,
		maxCJFeeAbs: cfg.MaxCJFeeAbs,
		maxCJFeeRel: cfg.MaxCJFeeRel,
		state: StateIdle,
	}
}

// AddHonestMakers records counterparties that have successfully
// completed a coinjoin with this Taker before.
func (t *Taker) AddHonestMakers(nicks ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.honestMakers == nil {
		t.honestMakers = make(map[string]bool)
	}
	for _, n := range nicks {
		t.honestMakers[n] = true
	}
}

// SetHonestOnly toggles restricting the orderbook filter to the
// honest-makers set.
func (t *Taker) SetHonestOnly(on bool) {
	t.mu.Lock()
	t.honestOnly = on
	t.mu.Unlock()
}

// AddIgnoredMakers blacklists nicks for the remainder of this Taker's
// run, across schedule entries.
func (t *Taker) AddIgnoredMakers(nicks ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range nicks {
		t.ignored[n] = true
	}
}

// KPHex returns the current run's session identifier, the value whose
// sha256 digest every maker's auth signature must verify against
// (internal/maker/maker.go OnAuthReceived, internal/taker/receive.go
// verifyAuthResponse).
func (t *Taker) KPHex() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kphex
}

// State reports the Taker's current lifecycle state.
func (t *Taker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Abort sets the cancellation flag; every entry point short-circuits to
// (false, "User aborted") from this point on.
func (t *Taker) Abort() {
	t.mu.Lock()
	t.aborted = true
	t.mu.Unlock()
}

func (t *Taker) isAborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// Initialize implements `Idle → Initializing`: advance
// the schedule, resolve the coinjoin amount, filter the orderbook,
// select inputs, and generate a PoDLE commitment.
func (t *Taker) Initialize(ctx context.Context, book []orderbook.Entry) (bool, int64, *models.PoDLE, []orderbook.Entry, error) {
	if t.isAborted() {
		return false, 0, nil, nil, ErrAborted
	}

	t.mu.Lock()
	t.scheduleIndex++
	if t.scheduleIndex > len(t.schedule) {
		t.mu.Unlock()
		if t.onFinished != nil {
			t.onFinished(true, "", 0, nil)
		}
		return false, 0, nil, nil, nil
	}
	entry := t.schedule[t.scheduleIndex-1]
	t.mu.Unlock()

	mixdepth := entry.Mixdepth
	destination := entry.Destination
	if destination == models.InternalDestination {
		addr, err := t.wallet.InternalAddr(nextMixdepth(mixdepth, t.wallet.MaxMixdepth()))
		if err != nil {
			return false, 0, nil, nil, fmt.Errorf("taker: resolve INTERNAL destination: %w", err)
		}
		destination = addr
	}

	balances, err := t.wallet.BalanceByMixdepth()
	if err != nil {
		return false, 0, nil, nil, fmt.Errorf("taker: balance_by_mixdepth: %w", err)
	}

	var cjAmount int64
	sweep := entry.IsSweep()
	if !sweep {
		cjAmount = entry.CJAmount
		if entry.CJFraction != nil {
			cjAmount = int64(float64(balances[mixdepth]) * *entry.CJFraction)
		}
		if cjAmount < t.policy.MinCJAmount {
			cjAmount = t.policy.MinCJAmount
		}
	}

	n := entry.NCounterparties
	t.mu.Lock()
	honestOnly := t.honestOnly
	maxCJFeeAbs := t.maxCJFeeAbs
	maxCJFeeRel := t.maxCJFeeRel
	t.mu.Unlock()
	filterParams := orderbook.FilterParams{
		N: n,
		Ignored: t.ignoredSnapshot(),
		AllowedTypes: models.AllowedTypesFor(t.policy.Segwit),
		MaxCJFeeAbs: maxCJFeeAbs,
		MaxCJFeeRel: maxCJFeeRel,
		HonestOnly: honestOnly,
		HonestMakers: t.honestMakers,
	}

	var chosenOffers []orderbook.Entry
	var inputs map[models.Outpoint]models.UTXO

	if sweep {
		allUtxos, err := t.wallet.UTXOsByMixdepth()
		if err != nil {
			return false, 0, nil, nil, fmt.Errorf("taker: utxos_by_mixdepth: %w", err)
		}
		inputs = make(map[models.Outpoint]models.UTXO)
		var totalValue int64
		for _, u := range allUtxos[mixdepth] {
			inputs[u.Outpoint] = u
			totalValue += u.Value
		}
		if len(inputs) == 0 {
			return false, 0, nil, nil, orderbook.ErrInsufficientLiquidity
		}
		estFee := t.policy.DefaultTxFee * int64(len(inputs)+n)
		chosen, amount, err := orderbook.ChooseSweepOrders(book, filterParams, totalValue, estFee, t.policy.DustThreshold, t.chosen)
		if err != nil {
			return false, 0, nil, nil, err
		}
		chosenOffers = chosen
		cjAmount = amount
	} else {
		filterParams.TargetAmount = cjAmount
		totalCJFee := t.estimateTotalCJFee(book, filterParams, cjAmount)
		needed := cjAmount + totalCJFee + 2*t.policy.DefaultTxFee*int64(n)
		selected, err := t.wallet.SelectUTXOs(mixdepth, needed)
		if err != nil {
			return false, 0, nil, nil, fmt.Errorf("taker: select_utxos: %w", err)
		}
		inputs = selected

		chosen, err := orderbook.ChooseOrders(book, filterParams, t.chosen)
		if err != nil {
			return false, 0, nil, nil, err
		}
		chosenOffers = chosen
	}

	for op, u := range inputs {
		if len(u.Script) == 0 {
			script, err := t.wallet.AddrToScript(u.Address)
			if err != nil {
				return false, 0, nil, nil, fmt.Errorf("taker: addr_to_script for own input %s: %w", u.Address, err)
			}
			u.Script = script
			inputs[op] = u
		}
	}

	pairs := make([]podle.PrivUtxoPair, 0, len(inputs))
	privs := make(map[models.Outpoint]*btcec.PrivateKey, len(inputs))
	for op, u := range inputs {
		priv, err := t.wallet.KeyFromAddr(u.Address)
		if err != nil {
			return false, 0, nil, nil, fmt.Errorf("taker: key_from_addr: %w", err)
		}
		privs[op] = priv
		pairs = append(pairs, podle.PrivUtxoPair{Priv: priv, Utxo: op})
	}

	p, err := t.generateCommitment(pairs, cjAmount)
	if err != nil {
		if errors.Is(err, podle.ErrCommitmentExhausted) {
			return false, 0, nil, nil, fmt.Errorf("commitment-failure: %w", err)
		}
		return false, 0, nil, nil, err
	}
	if err := t.store.MarkUsed(*p); err != nil {
		return false, 0, nil, nil, fmt.Errorf("taker: record commitment used: %w", err)
	}

	var runID uuid.UUID
	if t.audit != nil {
		runID = uuid.New()
		// used_commitments.run_id references schedule_runs, so the run
		// row must exist before the commitment row can.
		if err := t.audit.StartRun(ctx, audit.RunRecord{
			RunID: runID,
			Mixdepth: mixdepth,
			CJAmount: cjAmount,
			NCounterparties: n,
			Destination: destination,
		}); err != nil {
			log.Printf("taker: audit start_run: %v", err)
		} else if err := t.audit.RecordCommitmentUsed(ctx, p.Commitment, runID); err != nil {
			log.Printf("taker: audit record_commitment_used: %v", err)
		}
	}

	nonrespondants := make(map[string]bool, len(chosenOffers))
	offersByNick := make(map[string]models.Offer, len(chosenOffers))
	for _, e := range chosenOffers {
		nonrespondants[e.Counterparty] = true
		offersByNick[e.Counterparty] = e.Offer
	}

	kphexBytes := make([]byte, 16)
	if _, err := rand.Read(kphexBytes); err != nil {
		return false, 0, nil, nil, fmt.Errorf("taker: generate session kphex: %w", err)
	}
	kphex := hex.EncodeToString(kphexBytes)

	t.mu.Lock()
	t.state = StateAwaitingUtxos
	t.cjAmount = cjAmount
	t.mixdepth = mixdepth
	t.destination = destination
	t.commitment = p.Commitment
	t.revelation = p.Revelation
	t.inputs = inputs
	t.inputPrivs = privs
	t.nonrespondants = nonrespondants
	t.offersByNick = offersByNick
	t.inFlight = make(map[string]inFlightOrder)
	t.makerTxFeeTotal = 0
	t.cjFeeTotal = 0
	t.waittimeMinutes = entry.WaitTimeMinutes
	t.kphex = kphex
	t.runID = runID
	t.unsignedTx = nil
	t.takerChangeAddr = ""
	t.pendingSigs = nil
	t.inputIndicesByNick = nil
	t.mu.Unlock()

	return true, cjAmount, p, chosenOffers, nil
}

// generateCommitment retries over the full wallet plus the external
// commitment file if the selected-input set alone is exhausted.
func (t *Taker) generateCommitment(pairs []podle.PrivUtxoPair, cjAmount int64) (*models.PoDLE, error) {
	p, err := podle.Generate(t.store, pairs, t.policy.TakerUtxoRetries, nil)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, podle.ErrCommitmentExhausted) {
		return nil, err
	}

	allUtxos, walletErr := t.wallet.UTXOsByMixdepth()
	if walletErr != nil {
		return nil, fmt.Errorf("taker: utxos_by_mixdepth during retry: %w", walletErr)
	}
	var allPairs []podle.PrivUtxoPair
	var tooOld, tooSmall []models.Outpoint
	for _, utxos := range allUtxos {
		for _, u := range utxos {
			minValue := (cjAmount * t.policy.TakerUtxoAmtPct) / 100
			if u.Confirms < t.policy.TakerUtxoAge {
				tooOld = append(tooOld, u.Outpoint)
				continue
			}
			if u.Value < minValue {
				tooSmall = append(tooSmall, u.Outpoint)
				continue
			}
			priv, keyErr := t.wallet.KeyFromAddr(u.Address)
			if keyErr != nil {
				continue
			}
			allPairs = append(allPairs, podle.PrivUtxoPair{Priv: priv, Utxo: u.Outpoint})
		}
	}

	external, loadErr := t.store.Load()
	if loadErr != nil {
		return nil, loadErr
	}
	var externalCandidates []models.ExternalCommitmentEntry
	for _, entry := range external {
		externalCandidates = append(externalCandidates, entry)
	}

	p, err = podle.Generate(t.store, allPairs, t.policy.TakerUtxoRetries, externalCandidates)
	if err != nil {
		_ = podle.WriteDebugFile("commitments_debug.txt", tooOld, tooSmall, cjAmount, t.policy.TakerUtxoAge, t.policy.TakerUtxoAmtPct)
		return nil, err
	}
	return p, nil
}

func (t *Taker) ignoredSnapshot() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.ignored))
	for k := range t.ignored {
		out[k] = true
	}
	return out
}

// estimateTotalCJFee gives select_utxos a rough fee budget to size
// around before the chooser has actually run;
// it is refined once ReceiveUTXOs knows the real respondents.
func (t *Taker) estimateTotalCJFee(book []orderbook.Entry, p orderbook.FilterParams, cjAmount int64) int64 {
	candidates := orderbook.Filter(book, p)
	if len(candidates) == 0 {
		return 0
	}
	var total int64
	count := p.N
	if count > len(candidates) {
		count = len(candidates)
	}
	for i := 0; i < count; i++ {
		total += fees.RealCJFee(candidates[i].Offer.OrderType, candidates[i].Offer.CJFee, cjAmount)
	}
	return total
}

// nextMixdepth implements the (mixdepth+1) mod (max_mixdepth+1)
// rotation used to resolve the INTERNAL destination sentinel.
func nextMixdepth(mixdepth, maxMixdepth int) int {
	return (mixdepth + 1) % (maxMixdepth + 1)
}

func (t *Taker) markIgnored(nick string) {
	t.mu.Lock()
	t.ignored[nick] = true
	t.mu.Unlock()
	log.Printf("taker: marking %s as malicious, added to ignored list", nick)
}
