package orderbook

import (
	"sort"

	"github.com/rawblock/joinmarket-core/internal/fees"
)

// Chooser picks exactly n entries from candidates for a coinjoin of the
// given target amount. It is an external collaborator: CheapestChooser
// below is a reference implementation good enough to drive the taker
// state machine end to end, not a prescribed strategy.
type Chooser func(candidates []Entry, target int64, n int) ([]Entry, error)

// CheapestChooser deterministically selects the n cheapest candidates
// by real_cj_fee at the target amount, breaking ties by counterparty
// nickname for reproducibility.
func CheapestChooser(candidates []Entry, target int64, n int) ([]Entry, error) {
	if len(candidates) < n {
		return nil, ErrInsufficientLiquidity
	}
	sorted := make([]Entry, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
			fi := fees.RealCJFee(sorted[i].Offer.OrderType, sorted[i].Offer.CJFee, target)
			fj := fees.RealCJFee(sorted[j].Offer.OrderType, sorted[j].Offer.CJFee, target)
			if fi != fj {
				return fi < fj
			}
			return sorted[i].Counterparty < sorted[j].Counterparty
	})
	return sorted[:n], nil
}

// ChooseOrders runs filter+chooser together,
// failing with ErrInsufficientLiquidity if fewer than n candidates
// survive filtering or the chooser itself can't fill the order.
func ChooseOrders(book []Entry, p FilterParams, choose Chooser) ([]Entry, error) {
	candidates := Filter(book, p)
	if len(candidates) < p.N {
		return nil, ErrInsufficientLiquidity
	}
	return choose(candidates, p.TargetAmount, p.N)
}

// sweepFixedPointIterations bounds the fixed-point loop in
// ChooseSweepOrders; real_cj_fee moves slowly enough relative to
// cj_amount for small fee fractions that this converges in a handful
// of steps.
const sweepFixedPointIterations = 12

// ChooseSweepOrders implements the sweep variant: it chooses n orders
// by fee first (amount-independent comparison, using totalValue as a
// stand-in target), then solves for the largest
// cj_amount such that
//
//	total_value - tx_fee - Σ real_cj_fee(cj_amount) >= cj_amount
//
// via fixed-point iteration, since Σ real_cj_fee depends on cj_amount
// for relative-fee offers. Returns ErrInsufficientLiquidity if no
// non-dust amount satisfies the invariant.
func ChooseSweepOrders(book []Entry, p FilterParams, totalValue, txFee int64, dustThreshold int64, choose Chooser) ([]Entry, int64, error) {
	p.TargetAmount = totalValue
	candidates := Filter(book, p)
	if len(candidates) < p.N {
		return nil, 0, ErrInsufficientLiquidity
	}
	chosen, err := choose(candidates, totalValue, p.N)
	if err != nil {
		return nil, 0, err
	}

	amount := totalValue - txFee
	for i := 0; i < sweepFixedPointIterations; i++ {
		var totalFee int64
		for _, e := range chosen {
			totalFee += fees.RealCJFee(e.Offer.OrderType, e.Offer.CJFee, amount)
		}
		next := totalValue - txFee - totalFee
		if next == amount {
			break
		}
		amount = next
	}

	if amount <= dustThreshold {
		return nil, 0, ErrInsufficientLiquidity
	}
	return chosen, amount, nil
}
