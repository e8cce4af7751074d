// Package chain defines the Blockchain adapter contract and an
// rpcclient-backed implementation. Beyond this interface, confirmation
// tracking, mempool policy and broadcast topology live outside this
// module's scope.
package chain

import (
	"context"

	"github.com/rawblock/joinmarket-core/pkg/models"
)

// ConfirmCallback fires once a watched transaction reaches the
// required confirmation depth.
type ConfirmCallback func(txid string, confirmations int64)

// UnconfirmCallback fires once a watched transaction first appears in
// the mempool (0 confirmations).
type UnconfirmCallback func(txid string)

// Blockchain is the adapter Taker and Maker consume for chain state.
type Blockchain interface {
	// WalletSynced reports whether the backing node/wallet has finished
	// its initial sync; both Taker and Maker refuse to start while false.
	WalletSynced(ctx context.Context) (bool, error)

	// QueryUTXOSet resolves the current chain state of the given
	// outpoints. A nil entry at index i means that outpoint is spent
	// or unknown to this node.
	QueryUTXOSet(ctx context.Context, outpoints []models.Outpoint, includeConf bool) ([]*models.UTXO, error)

	// PushTx broadcasts a raw signed transaction, reporting whether the
	// node accepted it.
	PushTx(ctx context.Context, rawTx []byte) (bool, error)

	// AddTxNotify registers unconfirm/confirm callbacks for a
	// transaction touching addr, firing unconfirmCb once it's seen in
	// the mempool and confirmCb once it reaches confirmation depth.
	AddTxNotify(ctx context.Context, txid string, addr string, unconfirmCb UnconfirmCallback, confirmCb ConfirmCallback) error

	// ImportAddresses registers addrs as watch-only under walletName, so
	// QueryUTXOSet/AddTxNotify can see payments to them. Optional;
	// implementations that don't need watch-only tracking may no-op.
	ImportAddresses(ctx context.Context, addrs []string, walletName string) error
}
