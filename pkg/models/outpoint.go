package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Outpoint identifies a transaction output being spent. Internally we
// always pass this structured value around; the "txid:vout" string form
// is only used at the wire boundary (ioauth messages,
// the external-commitment file).
type Outpoint struct {
	Txid string
	Vout uint32
}

// String renders the outpoint in the "txid:vout" wire form.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.Txid, o.Vout)
}

// ParseOutpoint parses the "txid:vout" wire form back into an Outpoint.
func ParseOutpoint(s string) (Outpoint, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return Outpoint{}, fmt.Errorf("malformed outpoint %q", s)
	}
	vout, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("malformed outpoint %q", s)
	}
	return Outpoint{Txid: s[:i], Vout: uint32(vout)}, nil
}

// UTXO is a single unspent-output record as reported by the blockchain
// adapter.
type UTXO struct {
	Outpoint Outpoint
	Address string
	Value int64 // satoshis
	Script []byte
	Confirms int64
}

// FirstOutpointSorted picks the lexicographically-first "txid:vout"
// outpoint out of utxos, rather than relying on Go's randomized map
// iteration order. Maker and Taker both call this to agree on which
// utxo an auth signature was made over.
func FirstOutpointSorted(utxos map[Outpoint]UTXO) Outpoint {
	keys := make([]Outpoint, 0, len(utxos))
	for k := range utxos {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys[0]
}
