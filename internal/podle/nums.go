package podle

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// numsDomainTag domain-separates the NUMS point derivation from any
// other use of sha256 in this package.
const numsDomainTag = "JoinmarketCore/PoDLE-NUMS/v1"

// maxNumsAttempts bounds the try-and-increment loop used to derive the
// second generator J(u,i). Failure here would mean sha256 repeatedly
// produces non-curve x-coordinates, astronomically unlikely within a
// handful of attempts, let alone this many.
const maxNumsAttempts = 256

// DeriveJ deterministically derives the second, nothing-up-my-sleeve
// generator J(u,i) for a given utxo and PoDLE try-index. It uses the standard try-and-increment construction: hash the
// domain tag, utxo and index, interpret the digest as an x-coordinate
// with an even y, and re-hash until a valid curve point is found. This
// is the same technique btcd's taproot code uses to build its NUMS
// point; no private key is ever involved, so nobody knows log_G(J).
func DeriveJ(utxo models.Outpoint, index int) (*btcec.PublicKey, error) {
	h := sha256.New()
	h.Write([]byte(numsDomainTag))
	h.Write([]byte(utxo.String()))
	h.Write([]byte{byte(index >> 24), byte(index >> 16), byte(index >> 8), byte(index)})
	seed := h.Sum(nil)

	for attempt := 0; attempt < maxNumsAttempts; attempt++ {
		candidate := make([]byte, 33)
		candidate[0] = 0x02 // even y
		copy(candidate[1:], seed)
		if pub, err := btcec.ParsePubKey(candidate); err == nil {
			return pub, nil
		}
		next := sha256.Sum256(seed)
		seed = next[:]
	}
	return nil, errNumsExhausted
}
