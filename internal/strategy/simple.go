// Package strategy provides a minimal maker.OrderStrategy suitable for
// wiring a single coordinator process and for reference/testing: a
// concrete policy sitting behind an interface the core doesn't own.
package strategy

import (
	"log"
	"sort"
	"sync"

	"github.com/rawblock/joinmarket-core/internal/wallet"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// Simple is a fixed-fee, fixed-size-bracket maker policy: one offer
// per mixdepth the wallet holds coins in. Every fill greedily selects
// utxos from mixdepth 0, whichever offer was taken; an offer for
// another mixdepth is not filled from that mixdepth's coins. It has no
// pricing intelligence — it only
// needs to produce a legal, self-consistent offer for the state
// machine to drive.
type Simple struct {
	mu sync.Mutex

	wallet wallet.Wallet
	nick   string

	ordertype models.OrderType
	txFee     int64
	cjFee     float64
	minSize   int64
	maxSize   int64

	nextOID int64
	used    map[models.Outpoint]bool
}

// New constructs a Simple strategy advertising ordertype offers priced
// at txFee/cjFee, bracketed to [minSize, maxSize].
func New(w wallet.Wallet, nick string, ordertype models.OrderType, txFee int64, cjFee float64, minSize, maxSize int64) *Simple {
	return &Simple{
		wallet:    w,
		nick:      nick,
		ordertype: ordertype,
		txFee:     txFee,
		cjFee:     cjFee,
		minSize:   minSize,
		maxSize:   maxSize,
		used:      make(map[models.Outpoint]bool),
	}
}

// CreateMyOrders implements maker.OrderStrategy: one offer per
// mixdepth holding at least minSize in spendable value.
func (s *Simple) CreateMyOrders() []models.Offer {
	balances, err := s.wallet.BalanceByMixdepth()
	if err != nil {
		log.Printf("strategy: balance_by_mixdepth: %v", err)
		return nil
	}

	mixdepths := make([]int, 0, len(balances))
	for md := range balances {
		mixdepths = append(mixdepths, md)
	}
	sort.Ints(mixdepths)

	var offers []models.Offer
	for _, md := range mixdepths {
		if balances[md] < s.minSize {
			continue
		}
		s.mu.Lock()
		s.nextOID++
		oid := s.nextOID
		s.mu.Unlock()

		maxSize := s.maxSize
		if balances[md] < maxSize {
			maxSize = balances[md]
		}
		offers = append(offers, models.Offer{
			OID:          oid,
			OrderType:    s.ordertype,
			MinSize:      s.minSize,
			MaxSize:      maxSize,
			TxFee:        s.txFee,
			CJFee:        s.cjFee,
			Counterparty: s.nick,
		})
	}
	return offers
}

// OIDToOrder implements maker.OrderStrategy: greedily select utxos
// from mixdepth 0 summing to at least amount, deriving fresh cj/change
// addresses from the wallet.
func (s *Simple) OIDToOrder(offer models.Offer, amount int64) (map[models.Outpoint]models.UTXO, string, string, bool) {
	const mixdepth = 0

	s.mu.Lock()
	already := make(map[models.Outpoint]bool, len(s.used))
	for op := range s.used {
		already[op] = true
	}
	s.mu.Unlock()

	all, err := s.wallet.UTXOsByMixdepth()
	if err != nil {
		log.Printf("strategy: utxos_by_mixdepth: %v", err)
		return nil, "", "", false
	}

	candidates := all[mixdepth]
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Outpoint.String() < candidates[j].Outpoint.String()
	})

	selected := make(map[models.Outpoint]models.UTXO)
	var total int64
	for _, u := range candidates {
		if already[u.Outpoint] {
			continue
		}
		selected[u.Outpoint] = u
		total += u.Value
		if total >= amount {
			break
		}
	}
	if total < amount {
		return nil, "", "", false
	}

	cjAddr, err := s.wallet.InternalAddr(mixdepth)
	if err != nil {
		log.Printf("strategy: internal_addr (cj): %v", err)
		return nil, "", "", false
	}
	changeAddr, err := s.wallet.InternalAddr(mixdepth)
	if err != nil {
		log.Printf("strategy: internal_addr (change): %v", err)
		return nil, "", "", false
	}

	s.mu.Lock()
	for op := range selected {
		s.used[op] = true
	}
	s.mu.Unlock()

	return selected, cjAddr, changeAddr, true
}

// OnTxUnconfirmed is a no-op: this policy does not rotate or cancel
// offers on first-seen, only on confirmation.
func (s *Simple) OnTxUnconfirmed(nick string, txid string) {}

// OnTxConfirmed only logs the confirmation: utxos reserved by
// OIDToOrder stay reserved, and the offerlist is not rebuilt.
func (s *Simple) OnTxConfirmed(nick string, txid string, confirmations int64) {
	log.Printf("strategy: %s confirmed tx %s (%d confs)", nick, txid, confirmations)
}
