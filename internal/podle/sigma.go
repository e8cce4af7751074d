// Package podle implements the Proof of Discrete Log Equivalence
// anti-Sybil commitment scheme generation,
// verification, and persisted used-commitment tracking.
package podle

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// commitOf hashes a compressed P2 into the commitment published ahead
// of the opening (: commit = H(P2)).
func commitOf(p2Compressed []byte) string {
	sum := sha256.Sum256(p2Compressed)
	return hex.EncodeToString(sum[:])
}

// jacobianOf converts a parsed public key to its Jacobian representation.
func jacobianOf(pub *btcec.PublicKey) btcec.JacobianPoint {
	var j btcec.JacobianPoint
	pub.AsJacobian(&j)
	return j
}

// affinePubKey converts a Jacobian point (already normalized to affine
// via ToAffine) into a serializable public key.
func affinePubKey(j *btcec.JacobianPoint) *btcec.PublicKey {
	j.ToAffine()
	return btcec.NewPublicKey(&j.X, &j.Y)
}

// fiatShamirChallenge computes e = H(P || P2 || R_G || R_J) mod n, the
// Fiat-Shamir challenge binding both halves of the dual-base sigma
// proof together.
func fiatShamirChallenge(p, p2, rg, rj *btcec.PublicKey) *btcec.ModNScalar {
	h := sha256.New()
	h.Write(p.SerializeCompressed())
	h.Write(p2.SerializeCompressed())
	h.Write(rg.SerializeCompressed())
	h.Write(rj.SerializeCompressed())
	digest := h.Sum(nil)

	e := new(btcec.ModNScalar)
	e.SetByteSlice(digest)
	return e
}

// generateProof builds a PoDLE for a single (priv, utxo, index) triple:
// P = priv*G, P2 = priv*J(u,i), and a Fiat-Shamir sigma proof that
// log_G(P) == log_J(P2), without revealing priv.
func generateProof(priv *btcec.PrivateKey, utxo models.Outpoint, index int) (models.Revelation, error) {
	j, err := DeriveJ(utxo, index)
	if err != nil {
		return models.Revelation{}, err
	}
	jJac := jacobianOf(j)

	privScalar := priv.Key
	P := priv.PubKey()

	var p2Jac btcec.JacobianPoint
	btcec.ScalarMultNonConst(&privScalar, &jJac, &p2Jac)
	P2 := affinePubKey(&p2Jac)

	// Random nonce k, and its two commitments R_G = k*G, R_J = k*J.
	var kBytes [32]byte
	var k btcec.ModNScalar
	for {
		if _, err := rand.Read(kBytes[:]); err != nil {
			return models.Revelation{}, err
		}
		overflow := k.SetBytes(&kBytes)
		if overflow == 0 && !k.IsZero() {
			break
		}
	}

	var rgJac, rjJac btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&k, &rgJac)
	btcec.ScalarMultNonConst(&k, &jJac, &rjJac)
	RG := affinePubKey(&rgJac)
	RJ := affinePubKey(&rjJac)

	e := fiatShamirChallenge(P, P2, RG, RJ)

	// s = k + e*priv (mod n)
	s := new(btcec.ModNScalar)
	s.Set(e)
	s.Mul(&privScalar)
	s.Add(&k)

	sBytes := s.Bytes()
	eBytes := e.Bytes()

	return models.Revelation{
		Utxo: utxo,
		Index: index,
		P: P.SerializeCompressed(),
		P2: P2.SerializeCompressed(),
		S: sBytes[:],
		E: eBytes[:],
	}, nil
}

// verifyProofAtIndex checks the sigma-proof equation for one candidate
// index i: s*G == R_G + e*P and s*J(u,i) == R_J + e*P2, reconstructing
// R_G/R_J from s and e and re-deriving the challenge.
func verifyProofAtIndex(rev models.Revelation, index int) bool {
	P, err := btcec.ParsePubKey(rev.P)
	if err != nil {
		return false
	}
	P2, err := btcec.ParsePubKey(rev.P2)
	if err != nil {
		return false
	}
	j, err := DeriveJ(rev.Utxo, index)
	if err != nil {
		return false
	}

	var s, e btcec.ModNScalar
	if s.SetByteSlice(rev.S) {
		return false // overflow: not a valid scalar
	}
	if e.SetByteSlice(rev.E) {
		return false
	}

	PJac := jacobianOf(P)
	jJac := jacobianOf(j)
	P2Full := jacobianOf(P2)

	// R_G = s*G - e*P
	var sG, eP, negEP, rg btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&s, &sG)
	btcec.ScalarMultNonConst(&e, &PJac, &eP)
	negateJacobian(&eP, &negEP)
	btcec.AddNonConst(&sG, &negEP, &rg)

	// R_J = s*J - e*P2
	var sJ, eP2, negEP2, rj btcec.JacobianPoint
	btcec.ScalarMultNonConst(&s, &jJac, &sJ)
	btcec.ScalarMultNonConst(&e, &P2Full, &eP2)
	negateJacobian(&eP2, &negEP2)
	btcec.AddNonConst(&sJ, &negEP2, &rj)

	RG := affinePubKey(&rg)
	RJ := affinePubKey(&rj)

	recomputed := fiatShamirChallenge(P, P2, RG, RJ)
	return recomputed.Equals(&e)
}

// negateJacobian negates a Jacobian point's Y coordinate (point
// negation on a short Weierstrass curve), used to subtract points via
// addition: A - B == A + (-B).
func negateJacobian(in, out *btcec.JacobianPoint) {
	out.X.Set(&in.X)
	out.Y.Set(&in.Y).Negate(1)
	out.Z.Set(&in.Z)
	out.Y.Normalize()
}

// VerifyWithinRange recomputes commit == H(P2), then checks the
// sigma-proof equation for any index in [0, indexRange). Succeeds if
// any single index verifies.
func VerifyWithinRange(rev models.Revelation, commitment string, indexRange int) bool {
	if len(rev.P) == 0 || len(rev.P2) == 0 || len(rev.S) == 0 || len(rev.E) == 0 {
		return false
	}
	if commitOf(rev.P2) != commitment {
		return false
	}
	for i := 0; i < indexRange; i++ {
		if verifyProofAtIndex(rev, i) {
			return true
		}
	}
	return false
}
