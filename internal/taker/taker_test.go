package taker

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/joinmarket-core/internal/chain"
	"github.com/rawblock/joinmarket-core/internal/maker"
	"github.com/rawblock/joinmarket-core/internal/podle"
	"github.com/rawblock/joinmarket-core/internal/relay"
	"github.com/rawblock/joinmarket-core/internal/wallet"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// fakeChain is a synchronous, shared in-memory Blockchain: both the
// Taker and the Maker under test see the same chain state, mirroring
// how internal/maker/maker_test.go drives the Maker alone. PushTx
// reports the pushed transaction as first seen to every watcher
// registered through AddTxNotify.
type fakeChain struct {
	utxos  map[models.Outpoint]models.UTXO
	notify []func()
}

func newFakeChain() *fakeChain {
	return &fakeChain{utxos: make(map[models.Outpoint]models.UTXO)}
}

func (f *fakeChain) WalletSynced(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeChain) QueryUTXOSet(ctx context.Context, outpoints []models.Outpoint, includeConf bool) ([]*models.UTXO, error) {
	out := make([]*models.UTXO, len(outpoints))
	for i, op := range outpoints {
		if u, ok := f.utxos[op]; ok {
			copyU := u
			out[i] = &copyU
		}
	}
	return out, nil
}

func (f *fakeChain) PushTx(ctx context.Context, rawTx []byte) (bool, error) {
	for _, fire := range f.notify {
		fire()
	}
	return true, nil
}

func (f *fakeChain) AddTxNotify(ctx context.Context, txid, addr string, u chain.UnconfirmCallback, c chain.ConfirmCallback) error {
	f.notify = append(f.notify, func() { u(txid) })
	return nil
}

func (f *fakeChain) ImportAddresses(ctx context.Context, addrs []string, walletName string) error {
	return nil
}

type fixedStrategy struct {
	orders     []models.Offer
	onOIDOrder func(models.Offer, int64) (map[models.Outpoint]models.UTXO, string, string, bool)
}

func (s *fixedStrategy) CreateMyOrders() []models.Offer { return s.orders }
func (s *fixedStrategy) OIDToOrder(offer models.Offer, amount int64) (map[models.Outpoint]models.UTXO, string, string, bool) {
	return s.onOIDOrder(offer, amount)
}
func (s *fixedStrategy) OnTxUnconfirmed(nick, txid string)                    {}
func (s *fixedStrategy) OnTxConfirmed(nick, txid string, confirmations int64) {}

func pad(prefix string, n int) string {
	out := prefix
	for len(out) < n {
		out += "0"
	}
	return out[:n]
}

func randomAddr(t *testing.T, params *chaincfg.Params) string {
	t.Helper()
	priv, _ := btcec.NewPrivateKey()
	hash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, params)
	if err != nil {
		t.Fatalf("NewAddressWitnessPubKeyHash: %v", err)
	}
	return addr.EncodeAddress()
}

// TestTakerFullRunBroadcasts drives Initialize → ReceiveUTXOs → OnSig
// through a real relay.Bus and a real Maker, end to end, and checks
// the run reaches AwaitingConfirm with a finished callback fired.
func TestTakerFullRunBroadcasts(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	sharedChain := newFakeChain()

	// Maker side.
	makerWallet := wallet.NewMemWallet(params)
	makerPriv, _ := btcec.NewPrivateKey()
	makerUTXOAddr, _ := makerWallet.AddKey(0, makerPriv)
	makerOutpoint := models.Outpoint{Txid: pad("aa", 64), Vout: 0}
	makerWallet.AddUTXO(models.UTXO{Outpoint: makerOutpoint, Address: makerUTXOAddr, Value: 500000}, 0)
	makerScript, _ := makerWallet.AddrToScript(makerUTXOAddr)
	sharedChain.utxos[makerOutpoint] = models.UTXO{
		Outpoint: makerOutpoint, Address: makerUTXOAddr, Script: makerScript, Value: 500000, Confirms: 10,
	}
	makerCJAddr, _ := makerWallet.InternalAddr(0)
	makerChangeAddr, _ := makerWallet.InternalAddr(0)

	offer := models.Offer{OID: 1, OrderType: models.OrderTypeAbsOfferSw, MinSize: 1000, TxFee: 500, CJFee: 1000, Counterparty: "maker1"}
	strategy := &fixedStrategy{
		orders: []models.Offer{offer},
		onOIDOrder: func(o models.Offer, amount int64) (map[models.Outpoint]models.UTXO, string, string, bool) {
			return map[models.Outpoint]models.UTXO{
				makerOutpoint: {Outpoint: makerOutpoint, Address: makerUTXOAddr, Value: 500000},
			}, makerCJAddr, makerChangeAddr, true
		},
	}
	policy := models.Policy{
		TakerUtxoRetries:  3,
		TakerUtxoAge:      1,
		TakerUtxoAmtPct:   20,
		MinimumMakers:     1,
		Segwit:            true,
		TxBroadcast:       models.BroadcastSelf,
		MinCJAmount:       1000,
		DustThreshold:     1000,
		BitcoinDustThresh: 546,
		DefaultTxFee:      1000,
	}
	makerStore := podle.NewStore(t.TempDir() + "/maker_commitments.json")
	mkr := maker.New(makerWallet, sharedChain, makerStore, policy, strategy)
	if err := mkr.Start(context.Background()); err != nil {
		t.Fatalf("maker Start: %v", err)
	}

	bus := relay.NewBus()
	offers := make([]relay.Entry, 0, len(mkr.Offerlist()))
	for _, o := range mkr.Offerlist() {
		offers = append(offers, relay.Entry{Counterparty: "maker1", Offer: o})
	}
	bus.RegisterMaker("maker1", mkr, offers)

	// Taker side.
	takerWallet := wallet.NewMemWallet(params)
	takerPriv, _ := btcec.NewPrivateKey()
	takerUTXOAddr, _ := takerWallet.AddKey(0, takerPriv)
	takerOutpoint := models.Outpoint{Txid: pad("cc", 64), Vout: 0}
	takerWallet.AddUTXO(models.UTXO{Outpoint: takerOutpoint, Address: takerUTXOAddr, Value: 400000}, 0)
	takerScript, _ := takerWallet.AddrToScript(takerUTXOAddr)
	sharedChain.utxos[takerOutpoint] = models.UTXO{
		Outpoint: takerOutpoint, Address: takerUTXOAddr, Script: takerScript, Value: 400000, Confirms: 10,
	}

	destAddr := randomAddr(t, params)
	schedule := []models.ScheduleEntry{
		{Mixdepth: 0, CJAmount: 100000, NCounterparties: 1, Destination: destAddr},
	}

	var finished bool
	var finishedSuccess bool
	takerStore := podle.NewStore(t.TempDir() + "/taker_commitments.json")
	tk := New(Config{
		Wallet:      takerWallet,
		Chain:       sharedChain,
		Store:       takerStore,
		Relay:       bus,
		Policy:      policy,
		Schedule:    schedule,
		MaxCJFeeAbs: 1_000_000,
		MaxCJFeeRel: 1.0,
		OnFinished: func(success bool, fromtx string, waittimeMinutes float64, txdetails *TxDetails) {
			finished = true
			finishedSuccess = success
		},
	})

	ep := NewEndpoint(context.Background(), tk)
	bus.RegisterTaker(ep)

	book, err := bus.Orderbook()
	if err != nil {
		t.Fatalf("Orderbook: %v", err)
	}
	ok, err := ep.Initialize(book)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !ok {
		t.Fatalf("expected Initialize to report ok=true")
	}

	if got := tk.State(); got != StateAwaitingConfirm {
		t.Fatalf("expected StateAwaitingConfirm after a clean run, got %v", got)
	}
	if !finished || !finishedSuccess {
		t.Fatalf("expected OnFinished(true, ...) to fire, got finished=%v success=%v", finished, finishedSuccess)
	}
}

// TestAssembleAndSendRejectsSubDustMakerChange exercises the
// per-maker dust-change exclusion directly: a maker whose offer
// terms leave it with zero change is dropped, and with only one
// candidate and MinimumMakers=1 the whole run fails.
func TestAssembleAndSendRejectsSubDustMakerChange(t *testing.T) {
	cjAmount := int64(100000)
	makerOutpoint := models.Outpoint{Txid: pad("dd", 64), Vout: 0}
	offer := models.Offer{OID: 1, OrderType: models.OrderTypeAbsOfferSw, TxFee: 0, CJFee: 0, Counterparty: "maker1"}

	tk := &Taker{
		policy:       models.Policy{MinimumMakers: 1, DustThreshold: 1000, BitcoinDustThresh: 546, DefaultTxFee: 1000},
		cjAmount:     cjAmount,
		destination:  "unused",
		ignored:      map[string]bool{},
		inputs:       map[models.Outpoint]models.UTXO{},
		offersByNick: map[string]models.Offer{"maker1": offer},
		mixdepth:     0,
	}
	inFlight := map[string]inFlightOrder{
		"maker1": {
			utxos:      map[models.Outpoint]models.UTXO{makerOutpoint: {Outpoint: makerOutpoint, Value: cjAmount}},
			cjAddr:     "cj",
			changeAddr: "change",
		},
	}

	ok, err := tk.assembleAndSend(inFlight)
	if ok || err == nil {
		t.Fatalf("expected sub-dust maker change to sink the run, got ok=%v err=%v", ok, err)
	}
	if _, ignored := tk.ignored["maker1"]; !ignored {
		t.Fatalf("expected maker1 to be added to the ignored set")
	}
}

// TestNextMixdepthWrapsAround checks the INTERNAL destination's
// rotation wraps back to mixdepth 0 once it runs past the wallet's
// highest mixdepth, rather than growing unbounded.
func TestNextMixdepthWrapsAround(t *testing.T) {
	cases := []struct {
		mixdepth, maxMixdepth, want int
	}{
		{0, 4, 1},
		{3, 4, 4},
		{4, 4, 0},
		{0, 0, 0},
	}
	for _, c := range cases {
		if got := nextMixdepth(c.mixdepth, c.maxMixdepth); got != c.want {
			t.Fatalf("nextMixdepth(%d, %d) = %d, want %d", c.mixdepth, c.maxMixdepth, got, c.want)
		}
	}
}

// TestOnSigRejectsMalformedSignatureShape feeds a signature-script
// blob with the wrong number of pushed items and checks it is
// rejected and the offending maker blacklisted rather than silently
// accepted.
func TestOnSigRejectsMalformedSignatureShape(t *testing.T) {
	outpoint := models.Outpoint{Txid: pad("ee", 64), Vout: 0}
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0), nil, nil))

	tk := &Taker{
		state:              StateAwaitingSigs,
		ignored:            map[string]bool{},
		pendingSigs:        map[string]bool{"maker1": true},
		inputIndicesByNick: map[string][]int{"maker1": {0}},
		unsignedTx: &assembledTx{
			tx:     tx,
			inputs: []txInputMeta{{outpoint: outpoint, owner: "maker1", script: []byte{0x00}, amount: 1000}},
		},
	}

	badScript, err := txscript.NewScriptBuilder().AddData([]byte("only-one-item")).Script()
	if err != nil {
		t.Fatalf("build script: %v", err)
	}
	badSig := base64.StdEncoding.EncodeToString(badScript)

	ok, err := tk.OnSig("maker1", []string{badSig})
	if ok || err == nil {
		t.Fatalf("expected malformed signature shape to be rejected")
	}
	if _, ignored := tk.ignored["maker1"]; !ignored {
		t.Fatalf("expected maker1 to be blacklisted after a malformed signature")
	}
}
