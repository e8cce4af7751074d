package wallet

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// keyEntry is one owned address: its key and which mixdepth it belongs
// to, the minimal bookkeeping a BIP32 HD wallet would otherwise derive.
type keyEntry struct {
	priv *btcec.PrivateKey
	addr btcutil.Address
	mixdepth int
}

// MemWallet is a segwit (p2wpkh) reference Wallet: a single struct
// wrapping everything needed to talk to the chain, backed by local key
// custody instead of an RPC round trip. It is not a production HD
// wallet — no derivation paths, no persistence — it exists to drive
// the Taker/Maker state machines in tests and in the reference
// cmd/coordinator wiring.
type MemWallet struct {
	mu sync.RWMutex
	params *chaincfg.Params
	keys map[string]*keyEntry // address string -> key entry
	utxos map[models.Outpoint]models.UTXO
	utxoMd map[models.Outpoint]int
	active int
	nextIdx int
	maxMixdepth int
}

// DefaultMaxMixdepth mirrors the conventional five-mixdepth (0-4)
// wallet layout.
const DefaultMaxMixdepth = 4

// NewMemWallet returns an empty wallet for the given network.
func NewMemWallet(params *chaincfg.Params) *MemWallet {
	return &MemWallet{
		params: params,
		keys: make(map[string]*keyEntry),
		utxos: make(map[models.Outpoint]models.UTXO),
		utxoMd: make(map[models.Outpoint]int),
		maxMixdepth: DefaultMaxMixdepth,
	}
}

// AddKey registers a p2wpkh-owning key under mixdepth, for test and
// demo fixtures.
func (w *MemWallet) AddKey(mixdepth int, priv *btcec.PrivateKey) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, w.params)
	if err != nil {
		return "", fmt.Errorf("memwallet: derive address: %w", err)
	}
	w.keys[addr.EncodeAddress()] = &keyEntry{priv: priv, addr: addr, mixdepth: mixdepth}
	return addr.EncodeAddress(), nil
}

// AddUTXO registers a spendable output owned by one of this wallet's
// keys.
func (w *MemWallet) AddUTXO(u models.UTXO, mixdepth int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.utxos[u.Outpoint] = u
	w.utxoMd[u.Outpoint] = mixdepth
}

func (w *MemWallet) UTXOsByMixdepth() (map[int][]models.UTXO, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[int][]models.UTXO)
	for outpoint, u := range w.utxos {
		md := w.utxoMd[outpoint]
		out[md] = append(out[md], u)
	}
	return out, nil
}

func (w *MemWallet) SelectUTXOs(mixdepth int, amount int64) (map[models.Outpoint]models.UTXO, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var candidates []models.UTXO
	for outpoint, u := range w.utxos {
		if w.utxoMd[outpoint] == mixdepth {
			candidates = append(candidates, u)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Value > candidates[j].Value })

	selected := make(map[models.Outpoint]models.UTXO)
	var total int64
	for _, u := range candidates {
		if total >= amount {
			break
		}
		selected[u.Outpoint] = u
		total += u.Value
	}
	if total < amount {
		return nil, fmt.Errorf("memwallet: mixdepth %d holds %d, need %d", mixdepth, total, amount)
	}
	return selected, nil
}

func (w *MemWallet) InternalAddr(mixdepth int) (string, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}
	return w.AddKey(mixdepth, priv)
}

func (w *MemWallet) KeyFromAddr(addr string) (*btcec.PrivateKey, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	entry, ok := w.keys[addr]
	if !ok {
		return nil, fmt.Errorf("memwallet: unknown address %s", addr)
	}
	return entry.priv, nil
}

func (w *MemWallet) AddrToScript(addr string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, w.params)
	if err != nil {
		return nil, fmt.Errorf("memwallet: decode address: %w", err)
	}
	return txscript.PayToAddrScript(decoded)
}

func (w *MemWallet) PubkeyHasScript(pub []byte, script []byte) (bool, error) {
	key, err := btcec.ParsePubKey(pub)
	if err != nil {
		return false, fmt.Errorf("memwallet: parse pubkey: %w", err)
	}
	pkHash := btcutil.Hash160(key.SerializeCompressed())

	p2wpkhAddr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, w.params)
	if err == nil {
		p2wpkhScript, err := txscript.PayToAddrScript(p2wpkhAddr)
		if err == nil && bytesEqual(p2wpkhScript, script) {
			return true, nil
		}
	}

	p2pkhAddr, err := btcutil.NewAddressPubKeyHash(pkHash, w.params)
	if err == nil {
		p2pkhScript, err := txscript.PayToAddrScript(p2pkhAddr)
		if err == nil && bytesEqual(p2pkhScript, script) {
			return true, nil
		}
	}
	return false, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SignTx implements sign_tx for each named input,
// sign with the key owning its scriptPubKey, producing a p2wpkh
// witness (this wallet never advertises legacy ordertypes — legacy
// compatibility is the Maker/Taker side's concern, see
// internal/maker/sign.go).
func (w *MemWallet) SignTx(txd *wire.MsgTx, inputs map[int]SignInput) (*wire.MsgTx, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for index, in := range inputs {
		if index >= len(txd.TxIn) {
			return nil, fmt.Errorf("memwallet: sign_tx: input index %d out of range", index)
		}
		priv, err := w.keyForScript(in.Script)
		if err != nil {
			return nil, err
		}

		witnessScript := P2WPKHSigScript(priv.PubKey().SerializeCompressed())
		sigHashes := txscript.NewTxSigHashes(txd, txscript.NewCannedPrevOutputFetcher(in.Script, in.Amount))
		sig, err := txscript.RawTxInWitnessSignature(txd, sigHashes, index, in.Amount, witnessScript, txscript.SigHashAll, priv)
		if err != nil {
			return nil, fmt.Errorf("memwallet: sign input %d: %w", index, err)
		}
		txd.TxIn[index].Witness = wire.TxWitness{sig, priv.PubKey().SerializeCompressed()}
		// Native-segwit inputs carry an empty scriptSig; clear whatever
		// placeholder the unsigned tx left in place (see
		// internal/taker/tx.go's takerPendingSentinel).
		txd.TxIn[index].SignatureScript = nil
	}
	return txd, nil
}

// P2WPKHSigScript builds the p2pkh-shaped scriptCode used as the
// sigScript stand-in when signing (or verifying) a p2wpkh/P2SH-P2WPKH
// input — BIP143's "scriptCode" for a key-hash witness program.
func P2WPKHSigScript(pubkeyCompressed []byte) []byte {
	pkHash := btcutil.Hash160(pubkeyCompressed)
	script, _ := txscript.NewScriptBuilder().
	AddOp(txscript.OP_DUP).
	AddOp(txscript.OP_HASH160).
	AddData(pkHash).
	AddOp(txscript.OP_EQUALVERIFY).
	AddOp(txscript.OP_CHECKSIG).
	Script()
	return script
}

func (w *MemWallet) keyForScript(script []byte) (*btcec.PrivateKey, error) {
	for _, entry := range w.keys {
		candidate, err := txscript.PayToAddrScript(entry.addr)
		if err == nil && bytesEqual(candidate, script) {
			return entry.priv, nil
		}
	}
	return nil, fmt.Errorf("memwallet: no key owns script %x", sha256.Sum256(script))
}

func (w *MemWallet) TxType() string {
	return "p2wpkh"
}

func (w *MemWallet) BalanceByMixdepth() (map[int]int64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[int]int64)
	for outpoint, u := range w.utxos {
		out[w.utxoMd[outpoint]] += u.Value
	}
	return out, nil
}

func (w *MemWallet) Mixdepth() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// SetActiveMixdepth lets test/demo callers pick which mixdepth Mixdepth()
// reports, mirroring the wallet's own "current mixdepth" cursor.
func (w *MemWallet) SetActiveMixdepth(md int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = md
}

// MaxMixdepth returns the highest valid mixdepth index.
func (w *MemWallet) MaxMixdepth() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.maxMixdepth
}
