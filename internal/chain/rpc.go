package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// Config is the bare minimum needed to reach a Bitcoin Core RPC
// endpoint.
type Config struct {
	Host   string
	User   string
	Pass   string
	Params *chaincfg.Params
}

// RPCChain is the reference Blockchain adapter: an rpcclient.Client
// wrapper, with a second wallet-scoped client for watch-only
// operations.
type RPCChain struct {
	RPC       *rpcclient.Client
	WalletRPC *rpcclient.Client
	cfg       Config

	pollInterval time.Duration
}

// NewRPCChain dials the node at cfg.Host and verifies the connection by
// requesting the current block count as a health check.
func NewRPCChain(cfg Config) (*RPCChain, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	log.Printf("Connecting to Bitcoin RPC at %s...", cfg.Host)
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}
	if _, err := client.GetBlockCount(); err != nil {
		client.Shutdown()
		return nil, fmt.Errorf("chain: verify connection: %w", err)
	}

	return &RPCChain{RPC: client, cfg: cfg, pollInterval: 5 * time.Second}, nil
}

// Shutdown tears down the RPC connections.
func (c *RPCChain) Shutdown() {
	c.RPC.Shutdown()
	if c.WalletRPC != nil {
		c.WalletRPC.Shutdown()
	}
}

func (c *RPCChain) WalletSynced(ctx context.Context) (bool, error) {
	info, err := c.RPC.GetBlockChainInfo()
	if err != nil {
		return false, fmt.Errorf("chain: GetBlockChainInfo: %w", err)
	}
	return !info.InitialBlockDownload, nil
}

// QueryUTXOSet resolves each outpoint with gettxout, the per-output
// RPC of choice for lightweight UTXO-set checks (ScanTxOutset is
// reserved for batch scans elsewhere — it can run for minutes on a
// large UTXO set).
func (c *RPCChain) QueryUTXOSet(ctx context.Context, outpoints []models.Outpoint, includeConf bool) ([]*models.UTXO, error) {
	out := make([]*models.UTXO, len(outpoints))
	for i, op := range outpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hash, err := chainhash.NewHashFromStr(op.Txid)
		if err != nil {
			return nil, fmt.Errorf("chain: query_utxo_set: bad txid %q: %w", op.Txid, err)
		}
		res, err := c.RPC.GetTxOut(hash, op.Vout, true)
		if err != nil {
			return nil, fmt.Errorf("chain: gettxout %s: %w", op.String(), err)
		}
		if res == nil {
			out[i] = nil // spent or unknown
			continue
		}

		valueSat, err := btcutil.NewAmount(res.Value)
		if err != nil {
			return nil, fmt.Errorf("chain: parse value for %s: %w", op.String(), err)
		}

		record := &models.UTXO{
			Outpoint: op,
			Value:    int64(valueSat),
		}
		if len(res.ScriptPubKey.Addresses) > 0 {
			record.Address = res.ScriptPubKey.Addresses[0]
		}
		if includeConf {
			record.Confirms = res.Confirmations
		}
		out[i] = record
	}
	return out, nil
}

func (c *RPCChain) PushTx(ctx context.Context, rawTx []byte) (bool, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return false, fmt.Errorf("chain: decode transaction: %w", err)
	}
	if _, err := c.RPC.SendRawTransaction(&tx, false); err != nil {
		return false, fmt.Errorf("chain: sendrawtransaction: %w", err)
	}
	return true, nil
}

// AddTxNotify polls getrawtransaction at pollInterval until the
// context is cancelled; Bitcoin Core RPC has no push-notification
// transport of its own.
func (c *RPCChain) AddTxNotify(ctx context.Context, txid string, addr string, unconfirmCb UnconfirmCallback, confirmCb ConfirmCallback) error {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return fmt.Errorf("chain: add_tx_notify: bad txid %q: %w", txid, err)
	}

	go func() {
		seenUnconfirmed := false
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := c.RPC.GetRawTransactionVerbose(hash)
				if err != nil {
					continue
				}
				if result.Confirmations == 0 {
					if !seenUnconfirmed {
						seenUnconfirmed = true
						unconfirmCb(txid)
					}
					continue
				}
				confirmCb(txid, result.Confirmations)
				return
			}
		}
	}()
	return nil
}

// ImportAddresses imports addrs as watch-only via importdescriptors.
func (c *RPCChain) ImportAddresses(ctx context.Context, addrs []string, walletName string) error {
	client := c.RPC
	if c.WalletRPC != nil {
		client = c.WalletRPC
	}

	type descriptorRequest struct {
		Desc      string      `json:"desc"`
		Active    bool        `json:"active"`
		Timestamp interface{} `json:"timestamp"`
		Label     string      `json:"label"`
	}

	reqs := make([]descriptorRequest, 0, len(addrs))
	for _, addr := range addrs {
		descStr := fmt.Sprintf("addr(%s)", addr)
		descParam, err := json.Marshal(descStr)
		if err != nil {
			return err
		}
		resp, err := client.RawRequest("getdescriptorinfo", []json.RawMessage{descParam})
		if err != nil {
			return fmt.Errorf("chain: getdescriptorinfo %s: %w", addr, err)
		}
		var info struct {
			Descriptor string `json:"descriptor"`
		}
		if err := json.Unmarshal(resp, &info); err != nil {
			return err
		}
		reqs = append(reqs, descriptorRequest{
			Desc:      info.Descriptor,
			Active:    false,
			Timestamp: "now",
			Label:     walletName,
		})
	}

	reqBytes, err := json.Marshal(reqs)
	if err != nil {
		return err
	}
	_, err = client.RawRequest("importdescriptors", []json.RawMessage{reqBytes})
	return err
}
