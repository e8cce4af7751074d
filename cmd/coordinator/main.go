// Command coordinator wires the Taker/Maker coinjoin core into a
// runnable process: a Postgres audit trail, a Bitcoin Core RPC chain
// adapter, an in-process relay bus, and a gin + websocket operator
// console, in a dial-everything-then-serve shape.
package main

import (
	"context"
	"log"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rawblock/joinmarket-core/internal/api"
	"github.com/rawblock/joinmarket-core/internal/audit"
	"github.com/rawblock/joinmarket-core/internal/chain"
	"github.com/rawblock/joinmarket-core/internal/maker"
	"github.com/rawblock/joinmarket-core/internal/orderbook"
	"github.com/rawblock/joinmarket-core/internal/podle"
	"github.com/rawblock/joinmarket-core/internal/policy"
	"github.com/rawblock/joinmarket-core/internal/relay"
	"github.com/rawblock/joinmarket-core/internal/strategy"
	"github.com/rawblock/joinmarket-core/internal/taker"
	"github.com/rawblock/joinmarket-core/internal/wallet"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

func main() {
	log.Println("Starting JoinMarket-style coinjoin coordinator...")

	cfg, err := policy.FromEnv()
	if err != nil {
		log.Fatalf("FATAL: loading policy: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Audit trail (Postgres) ──────────────────────────────────────
	auditStore, err := audit.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("Warning: failed to connect to PostgreSQL, continuing without an audit trail. Error: %v", err)
	} else {
		defer auditStore.Close()
		if err := auditStore.InitSchema(ctx); err != nil {
			log.Printf("Warning: audit schema init failed: %v", err)
		}
	}

	// ─── Blockchain adapter (Bitcoin Core RPC) ───────────────────────
	params := &chaincfg.RegressionNetParams
	var bchain chain.Blockchain
	rpcChain, err := chain.NewRPCChain(cfg.ChainConfig(params))
	if err != nil {
		log.Printf("Warning: failed to connect to Bitcoin RPC, continuing in wallet-only mode: %v", err)
	} else {
		defer rpcChain.Shutdown()
		bchain = rpcChain
	}

	// ─── Wallet ───────────────────────────────────────────────────────
	// No production HD wallet ships with this core; MemWallet is the
	// reference adapter the Taker/Maker state machines drive here.
	w := wallet.NewMemWallet(params)

	// ─── PoDLE external-commitment store ──────────────────────────────
	store := podle.NewStore(cfg.ExternalCommitFile)

	// ─── Websocket hub + relay bus ─────────────────────────────────────
	wsHub := api.NewHub()
	go wsHub.Run()
	bus := relay.NewBus()

	ordertype := models.OrderTypeAbsOffer
	if cfg.Policy.Segwit {
		ordertype = models.OrderTypeAbsOfferSw
	}
	s := strategy.New(w, "maker0", ordertype, cfg.Policy.DefaultTxFee, 0.0003, cfg.Policy.MinCJAmount, cfg.Policy.MinCJAmount*100)
	mk := maker.New(w, bchain, store, cfg.Policy, s)
	if err := mk.Start(ctx); err != nil {
		log.Printf("Warning: maker failed to start: %v", err)
	} else {
		bus.RegisterMaker("maker0", mk, entriesFor(mk.Offerlist()))
	}

	var onFinished taker.OnFinishedFunc = func(success bool, fromtx string, waittimeMinutes float64, txdetails *taker.TxDetails) {
		log.Printf("coordinator: schedule entry finished: success=%v fromtx=%s", success, fromtx)
	}
	onFinished = api.BroadcastRunFinished(wsHub, onFinished)

	tkr := taker.New(taker.Config{
		Wallet:     w,
		Chain:      bchain,
		Store:      store,
		Relay:      bus,
		Policy:     cfg.Policy,
		Chooser:    orderbook.CheapestChooser,
		OnFinished: onFinished,
		Audit:      auditStore,
	})
	bus.RegisterTaker(taker.NewEndpoint(ctx, tkr))

	go api.WatchTakerState(ctx, wsHub, tkr, 2*time.Second)

	r := api.SetupRouter(auditStore, bchain, wsHub, bus, tkr)
	log.Printf("Coordinator listening on :%s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// entriesFor adapts a maker's offerlist into the relay.Entry shape
// RegisterMaker advertises on the bus.
func entriesFor(offers []models.Offer) []relay.Entry {
	out := make([]relay.Entry, len(offers))
	for i, o := range offers {
		out[i] = relay.Entry{Counterparty: o.Counterparty, Offer: o}
	}
	return out
}
