package orderbook

import (
	"testing"

	"github.com/rawblock/joinmarket-core/pkg/models"
)

func sampleBook() []Entry {
	return []Entry{
		{Counterparty: "maker1", Offer: models.Offer{OID: 1, OrderType: models.OrderTypeSwRelOffer, MinSize: 1000, MaxSize: 0, TxFee: 500, CJFee: 0.0001, Counterparty: "maker1"}},
		{Counterparty: "maker2", Offer: models.Offer{OID: 2, OrderType: models.OrderTypeSwRelOffer, MinSize: 1000, MaxSize: 0, TxFee: 500, CJFee: 0.0003, Counterparty: "maker2"}},
		{Counterparty: "maker3", Offer: models.Offer{OID: 3, OrderType: models.OrderTypeAbsOfferSw, MinSize: 1000, MaxSize: 0, TxFee: 500, CJFee: 5000, Counterparty: "maker3"}},
		{Counterparty: "blacklisted", Offer: models.Offer{OID: 4, OrderType: models.OrderTypeSwRelOffer, MinSize: 1000, MaxSize: 0, TxFee: 500, CJFee: 0.0001, Counterparty: "blacklisted"}},
	}
}

func TestFilterDropsIgnoredAndDisallowedTypes(t *testing.T) {
	p := FilterParams{
		TargetAmount: 100000,
		N:            2,
		Ignored:      map[string]bool{"blacklisted": true},
		AllowedTypes: models.AllowedTypesFor(true),
		MaxCJFeeAbs:  1 << 62,
		MaxCJFeeRel:  1.0,
	}
	out := Filter(sampleBook(), p)
	for _, e := range out {
		if e.Counterparty == "blacklisted" {
			t.Fatalf("expected blacklisted counterparty to be filtered out")
		}
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 surviving entries, got %d", len(out))
	}
}

func TestFilterDropsOverFeeCapOnlyWhenBothCapsExceeded(t *testing.T) {
	p := FilterParams{
		TargetAmount: 1000000,
		N:            1,
		AllowedTypes: models.AllowedTypesFor(true),
		MaxCJFeeAbs:  100, // maker2's real fee (300) exceeds this
		MaxCJFeeRel:  0.0005, // but not this (0.0003 < 0.0005), so it survives
	}
	out := Filter(sampleBook(), p)
	found := false
	for _, e := range out {
		if e.Counterparty == "maker2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected maker2 to survive: only one cap was exceeded, both must be for rejection")
	}
}

func TestFilterHonestOnlyRestrictsToHonestMakers(t *testing.T) {
	p := FilterParams{
		TargetAmount: 100000,
		N:            1,
		AllowedTypes: models.AllowedTypesFor(true),
		MaxCJFeeAbs:  1 << 62,
		MaxCJFeeRel:  1.0,
		HonestOnly:   true,
		HonestMakers: map[string]bool{"maker1": true},
	}
	out := Filter(sampleBook(), p)
	if len(out) != 1 || out[0].Counterparty != "maker1" {
		t.Fatalf("expected only maker1 to survive honest-only filtering, got %+v", out)
	}
}

func TestCheapestChooserPicksLowestFee(t *testing.T) {
	candidates := sampleBook()[:3]
	chosen, err := CheapestChooser(candidates, 100000, 2)
	if err != nil {
		t.Fatalf("CheapestChooser: %v", err)
	}
	if len(chosen) != 2 {
		t.Fatalf("expected 2 chosen offers, got %d", len(chosen))
	}
	if chosen[0].Counterparty != "maker1" {
		t.Fatalf("expected maker1 (lowest fee) first, got %s", chosen[0].Counterparty)
	}
}

func TestCheapestChooserInsufficientLiquidity(t *testing.T) {
	_, err := CheapestChooser(sampleBook()[:1], 100000, 3)
	if err != ErrInsufficientLiquidity {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestChooseSweepOrdersConverges(t *testing.T) {
	p := FilterParams{
		N:            2,
		AllowedTypes: models.AllowedTypesFor(true),
		MaxCJFeeAbs:  1 << 62,
		MaxCJFeeRel:  1.0,
	}
	chosen, amount, err := ChooseSweepOrders(sampleBook()[:3], p, 1_000_000, 1000, 546, CheapestChooser)
	if err != nil {
		t.Fatalf("ChooseSweepOrders: %v", err)
	}
	if len(chosen) != 2 {
		t.Fatalf("expected 2 chosen offers, got %d", len(chosen))
	}
	if amount <= 0 || amount >= 1_000_000 {
		t.Fatalf("expected a plausible solved cj_amount, got %d", amount)
	}
}

func TestChooseSweepOrdersRejectsDustResult(t *testing.T) {
	p := FilterParams{
		N:            1,
		AllowedTypes: models.AllowedTypesFor(true),
		MaxCJFeeAbs:  1 << 62,
		MaxCJFeeRel:  1.0,
	}
	_, _, err := ChooseSweepOrders(sampleBook()[:1], p, 2000, 1500, 546, CheapestChooser)
	if err != ErrInsufficientLiquidity {
		t.Fatalf("expected ErrInsufficientLiquidity for a dust-level sweep result, got %v", err)
	}
}
