// Package maker implements the Maker state machine: offer lifecycle,
// counterparty authorization, unsigned-transaction verification and
// signing.
package maker

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/rawblock/joinmarket-core/internal/chain"
	"github.com/rawblock/joinmarket-core/internal/podle"
	"github.com/rawblock/joinmarket-core/internal/relay"
	"github.com/rawblock/joinmarket-core/internal/wallet"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// State is the Maker's top-level lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateSyncing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSyncing:
		return "syncing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// OrderState is the per-counterparty sub-state within Ready.
type OrderState int

const (
	OrderAuthorized OrderState = iota
	OrderSigned
	OrderFinalized
)

// ErrEmptyOfferlist is fatal : a Maker that syncs with
// nothing to offer cannot participate and must abort.
var ErrEmptyOfferlist = errors.New("maker: create_my_orders returned no offers")

type activeOrder struct {
	info models.OfferInfo
	state OrderState
}

// Maker is the state machine; construct one per wallet/policy and wire
// it to a relay.Bus (or any relay.Relay) via Bus.RegisterMaker so its
// MakerEndpoint methods receive events.
type Maker struct {
	mu sync.RWMutex

	wallet wallet.Wallet
	chain chain.Blockchain
	store *podle.Store
	policy models.Policy
	strategy OrderStrategy

	state State
	offerlist []models.Offer
	offersByOID map[int64]models.Offer
	activeOrders map[string]*activeOrder // keyed by counterparty nick

	syncPollInterval time.Duration
}

// New constructs a Maker in StateUninitialized.
func New(w wallet.Wallet, c chain.Blockchain, store *podle.Store, policy models.Policy, strategy OrderStrategy) *Maker {
	return &Maker{
		wallet: w,
		chain: c,
		store: store,
		policy: policy,
		strategy: strategy,
		activeOrders: make(map[string]*activeOrder),
		syncPollInterval: 2 * time.Second,
	}
}

// State reports the Maker's current lifecycle state.
func (m *Maker) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Offerlist returns a copy of the currently advertised offers.
func (m *Maker) Offerlist() []models.Offer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Offer, len(m.offerlist))
	copy(out, m.offerlist)
	return out
}

// Start transitions Uninitialized → Syncing → Ready: it awaits wallet
// sync, then calls the strategy's CreateMyOrders hook. Sync-wait is a
// completion future the Maker awaits once, not a caller-visible poll
// loop — see awaitSynced.
func (m *Maker) Start(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateSyncing
	m.mu.Unlock()

	if err := m.awaitSynced(ctx); err != nil {
		return fmt.Errorf("maker: await wallet sync: %w", err)
	}

	offers := m.strategy.CreateMyOrders()
	if len(offers) == 0 {
		return ErrEmptyOfferlist
	}

	m.mu.Lock()
	m.offerlist = offers
	m.offersByOID = make(map[int64]models.Offer, len(offers))
	for _, o := range offers {
		m.offersByOID[o.OID] = o
	}
	m.state = StateReady
	m.mu.Unlock()
	return nil
}

func (m *Maker) awaitSynced(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(m.syncPollInterval)
		defer ticker.Stop()
		for {
			synced, err := m.chain.WalletSynced(ctx)
			if err != nil {
				done <- err
				return
			}
			if synced {
				done <- nil
				return
			}
			select {
			case <-ctx.Done():
				done <- ctx.Err()
				return
			case <-ticker.C:
			}
		}
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ModifyOrders cancels oids and adds newOrders to the offerlist.
// Canceling an oid that doesn't exist is logged, not an error.
func (m *Maker) ModifyOrders(cancelOIDs []int64, newOrders []models.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, oid := range cancelOIDs {
		if _, ok := m.offersByOID[oid]; !ok {
			log.Printf("maker: modify_orders: cancel of unknown oid %d ignored", oid)
			continue
		}
		delete(m.offersByOID, oid)
	}
	for _, o := range newOrders {
		m.offersByOID[o.OID] = o
	}

	rebuilt := make([]models.Offer, 0, len(m.offersByOID))
	for _, o := range m.offersByOID {
		rebuilt = append(rebuilt, o)
	}
	sort.Slice(rebuilt, func(i, j int) bool { return rebuilt[i].OID < rebuilt[j].OID })
	m.offerlist = rebuilt
}

// OnAuthReceived implements "Ready → Authorized(nick)".
// Any failure is a hard reject; no partial state is retained.
func (m *Maker) OnAuthReceived(nick string, req relay.AuthRequest) relay.AuthResponse {
	if m.State() != StateReady {
		return relay.AuthResponse{OK: false, Reason: "maker not ready"}
	}

	m.mu.RLock()
	stored, known := m.offersByOID[req.Offer.OID]
	m.mu.RUnlock()
	if !known || stored != req.Offer {
		return relay.AuthResponse{OK: false, Reason: "auth-failed: offer does not match an active order of ours"}
	}

	if !podle.Verify(req.Revelation, req.Commitment, m.policy.TakerUtxoRetries) {
		return relay.AuthResponse{OK: false, Reason: "auth-failed: invalid PoDLE proof"}
	}

	ctx := context.Background()
	records, err := m.chain.QueryUTXOSet(ctx, []models.Outpoint{req.Revelation.Utxo}, true)
	if err != nil || len(records) != 1 || records[0] == nil {
		return relay.AuthResponse{OK: false, Reason: "policy-violation: commitment utxo not found"}
	}
	utxoRecord := records[0]

	if utxoRecord.Confirms < m.policy.TakerUtxoAge {
		return relay.AuthResponse{OK: false, Reason: "policy-violation: commitment utxo too young"}
	}
	minValue := (req.Amount * m.policy.TakerUtxoAmtPct) / 100
	if utxoRecord.Value < minValue {
		return relay.AuthResponse{OK: false, Reason: "policy-violation: commitment utxo too small"}
	}

	hasScript, err := m.wallet.PubkeyHasScript(req.Revelation.P, utxoRecord.Script)
	if err != nil || !hasScript {
		return relay.AuthResponse{OK: false, Reason: "auth-failed: pubkey does not own committed utxo"}
	}

	utxos, cjAddr, changeAddr, ok := m.strategy.OIDToOrder(req.Offer, req.Amount)
	if !ok || len(utxos) == 0 {
		return relay.AuthResponse{OK: false, Reason: "policy-violation: oid_to_order rejected request"}
	}
	for op, u := range utxos {
		if len(u.Script) == 0 {
			script, err := m.wallet.AddrToScript(u.Address)
			if err != nil {
				return relay.AuthResponse{OK: false, Reason: "policy-violation: oid_to_order returned an unspendable utxo"}
			}
			u.Script = script
			utxos[op] = u
		}
	}

	authOutpoint := models.FirstOutpointSorted(utxos)
	authUTXO := utxos[authOutpoint]
	priv, err := m.wallet.KeyFromAddr(authUTXO.Address)
	if err != nil {
		return relay.AuthResponse{OK: false, Reason: "auth-failed: no key for auth utxo"}
	}

	digest := sha256.Sum256([]byte(req.KPHex))
	sig := ecdsa.Sign(priv, digest[:])

	order := &activeOrder{
		state: OrderAuthorized,
		info: models.OfferInfo{
			OID: req.Offer.OID,
			Offer: req.Offer,
			UTXOs: utxos,
			CJAddr: cjAddr,
			ChangeAddr: changeAddr,
			Amount: req.Amount,
		},
	}

	m.mu.Lock()
	m.activeOrders[nick] = order // idempotent-over-nick: overwrites any prior authorization
	m.mu.Unlock()

	return relay.AuthResponse{
		OK: true,
		UTXOs: utxos,
		AuthPub: priv.PubKey().SerializeCompressed(),
		CJAddr: cjAddr,
		ChangeAddr: changeAddr,
		BtcSig: sig.Serialize(),
		MakerPK: priv.PubKey().SerializeCompressed(),
	}
}

// OnTxConfirmed implements "Signed → Finalized".
func (m *Maker) OnTxConfirmed(nick string, txid string, confirmations int64) {
	m.mu.Lock()
	if order, ok := m.activeOrders[nick]; ok {
		order.state = OrderFinalized
		delete(m.activeOrders, nick)
	}
	m.mu.Unlock()
	m.strategy.OnTxConfirmed(nick, txid, confirmations)
}

// OnTxUnconfirmed forwards to the strategy hook without changing the
// per-order state.
func (m *Maker) OnTxUnconfirmed(nick string, txid string) {
	m.strategy.OnTxUnconfirmed(nick, txid)
}
