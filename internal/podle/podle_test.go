package podle

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

func newTestPriv(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate priv key: %v", err)
	}
	return priv
}

func TestGenerateThenVerifyRoundTrip(t *testing.T) {
	priv := newTestPriv(t)
	utxo := models.Outpoint{Txid: "aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44ee55ff66aa11bb22cc33dd4", Vout: 0}

	store := NewStore(filepath.Join(t.TempDir(), "commitments.json"))
	pairs := []PrivUtxoPair{{Priv: priv, Utxo: utxo}}

	p, err := Generate(store, pairs, 5, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.Commitment == "" {
		t.Fatalf("expected non-empty commitment")
	}
	if !Verify(p.Revelation, p.Commitment, 5) {
		t.Fatalf("expected opening to verify")
	}
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	priv := newTestPriv(t)
	utxo := models.Outpoint{Txid: "11" + fixedHex(62), Vout: 1}

	store := NewStore(filepath.Join(t.TempDir(), "commitments.json"))
	p, err := Generate(store, []PrivUtxoPair{{Priv: priv, Utxo: utxo}}, 3, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	tampered := p.Revelation
	tampered.S = append([]byte(nil), tampered.S...)
	tampered.S[0] ^= 0xff

	if Verify(tampered, p.Commitment, 3) {
		t.Fatalf("expected tampered revelation to fail verification")
	}
}

func TestGenerateSkipsAlreadyUsedCommitment(t *testing.T) {
	priv := newTestPriv(t)
	utxo := models.Outpoint{Txid: "22" + fixedHex(62), Vout: 2}
	store := NewStore(filepath.Join(t.TempDir(), "commitments.json"))
	pairs := []PrivUtxoPair{{Priv: priv, Utxo: utxo}}

	first, err := Generate(store, pairs, 8, nil)
	if err != nil {
		t.Fatalf("Generate (first): %v", err)
	}
	if err := store.MarkUsed(*first); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}

	second, err := Generate(store, pairs, 8, nil)
	if err != nil {
		t.Fatalf("Generate (second): %v", err)
	}
	if second.Commitment == first.Commitment {
		t.Fatalf("expected a distinct commitment once the first index is marked used, got the same one twice")
	}
	if second.Index == first.Index {
		t.Fatalf("expected a distinct try-index, got %d both times", second.Index)
	}
}

func TestGenerateFallsBackToExternalCandidates(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "commitments.json"))

	ext := models.ExternalCommitmentEntry{
		Commitment: "deadbeef",
		P:          []byte{0x01},
		P2:         []byte{0x02},
		S:          []byte{0x03},
		E:          []byte{0x04},
		Utxo:       models.Outpoint{Txid: fixedHex(64), Vout: 0},
		Used:       false,
	}

	p, err := Generate(store, nil, 3, []models.ExternalCommitmentEntry{ext})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.Commitment != ext.Commitment {
		t.Fatalf("expected the external candidate's commitment, got %q", p.Commitment)
	}
}

func TestGenerateExhaustedReturnsError(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "commitments.json"))

	used := models.ExternalCommitmentEntry{Commitment: "alreadyused", Used: true}
	_, err := Generate(store, nil, 1, []models.ExternalCommitmentEntry{used})
	if err != ErrCommitmentExhausted {
		t.Fatalf("expected ErrCommitmentExhausted, got %v", err)
	}
}

func TestDistinctUtxosProduceDistinctCommitments(t *testing.T) {
	priv := newTestPriv(t)
	store := NewStore(filepath.Join(t.TempDir(), "commitments.json"))

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		utxo := models.Outpoint{Txid: randHex(t), Vout: uint32(i)}
		p, err := Generate(store, []PrivUtxoPair{{Priv: priv, Utxo: utxo}}, 3, nil)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[p.Commitment] {
			t.Fatalf("commitment collision across distinct utxos")
		}
		seen[p.Commitment] = true
	}
}

func fixedHex(n int) string {
	const digits = "0123456789abcdef"
	out := make([]byte, n)
	for i := range out {
		out[i] = digits[i%len(digits)]
	}
	return string(out)
}

func randHex(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("rand: %v", err)
	}
	const digits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range buf {
		out[2*i] = digits[b>>4]
		out[2*i+1] = digits[b&0x0f]
	}
	return string(out)
}
