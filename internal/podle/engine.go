package podle

import (
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// ErrCommitmentExhausted is returned by Generate when no unused
// commitment could be found anywhere — across every (priv, utxo, index)
// combination offered and every external candidate.
var ErrCommitmentExhausted = errors.New("podle: no unused commitment available")

// PrivUtxoPair pairs a spendable utxo with the private key that spends
// it, the unit Generate iterates over.
type PrivUtxoPair struct {
	Priv *btcec.PrivateKey
	Utxo models.Outpoint
}

// Generate tries indices 0..maxTries for each (priv, utxo) pair until
// an unused commitment is found; if every pair is exhausted, it falls
// back to externalCandidates. Generation never marks a commitment
// used — that is the caller's job, once it knows the commitment will
// actually be sent.
func Generate(store *Store, pairs []PrivUtxoPair, maxTries int, externalCandidates []models.ExternalCommitmentEntry) (*models.PoDLE, error) {
	used, err := store.Load()
	if err != nil {
		return nil, err
	}

	for _, pair := range pairs {
		for i := 0; i < maxTries; i++ {
			rev, err := generateProof(pair.Priv, pair.Utxo, i)
			if err != nil {
				continue
			}
			commitment := commitOf(rev.P2)
			if entry, ok := used[commitment]; ok && entry.Used {
				continue
			}
			return &models.PoDLE{Revelation: rev, Commitment: commitment}, nil
		}
	}

	for _, ext := range externalCandidates {
		if ext.Used {
			continue
		}
		return &models.PoDLE{
			Revelation: models.Revelation{Utxo: ext.Utxo, P: ext.P, P2: ext.P2, S: ext.S, E: ext.E},
			Commitment: ext.Commitment,
		}, nil
	}

	return nil, ErrCommitmentExhausted
}

// Verify checks rev against commitment by recomputing the commitment
// across indices 0..indexRange and accepting a match anywhere in range.
func Verify(rev models.Revelation, commitment string, indexRange int) bool {
	return VerifyWithinRange(rev, commitment, indexRange)
}

// MarkUsed marks a commitment used in the persisted store, the only
// place a commitment transitions from "available" to "spent" — a taker
// must never reveal the same (utxo, index) twice.
func (s *Store) MarkUsed(p models.PoDLE) error {
	return s.RecordUsed(models.ExternalCommitmentEntry{
		Commitment: p.Commitment,
		P:          p.P,
		P2:         p.P2,
		S:          p.S,
		E:          p.E,
		Utxo:       p.Utxo,
		Used:       true,
	})
}

// WriteDebugFile writes commitments_debug.txt, a human-readable
// explanation of why commitment generation exhausted its candidates.
func WriteDebugFile(path string, tooOld, tooSmall []models.Outpoint, cjAmount, age, amtPercent int64) error {
	const header = "THIS IS A TEMPORARY FILE FOR DEBUGGING; IT CAN BE SAFELY DELETED ANY TIME.\n***\n"

	body := header
	body += fmt.Sprintf("Could not find a valid unused commitment for a coinjoin of %d satoshis.\n", cjAmount)
	body += fmt.Sprintf("Required utxo confirmations: %d, required utxo value: >= %d%% of the coinjoin amount.\n", age, amtPercent)
	body += fmt.Sprintf("%d utxo(s) rejected as not old enough:\n", len(tooOld))
	for _, u := range tooOld {
		body += " " + u.String() + "\n"
	}
	body += fmt.Sprintf("%d utxo(s) rejected as too small:\n", len(tooSmall))
	for _, u := range tooSmall {
		body += " " + u.String() + "\n"
	}

	return os.WriteFile(path, []byte(body), 0o644)
}
