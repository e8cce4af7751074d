package orderbook

import (
	"github.com/rawblock/joinmarket-core/internal/fees"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// FilterParams bundles the predicates Filter narrows the orderbook
// with; Filter's own doc gives the order they are applied in.
type FilterParams struct {
	TargetAmount int64
	N int
	Ignored map[string]bool // nicknames never to deal with
	AllowedTypes []models.OrderType
	MaxCJFeeAbs int64
	MaxCJFeeRel float64
	HonestOnly bool
	HonestMakers map[string]bool // consulted only when HonestOnly is set
}

func contains(types []models.OrderType, t models.OrderType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// Filter implements steps 1-3: drop ignored counterparties
// and disallowed ordertypes, optionally restrict to the honest-makers
// set, and drop any offer whose fee exceeds both the absolute and
// relative caps. It does not invoke the chooser — see Chooser below —
// and does not check candidate count; callers combine this with a
// chooser and check the result length themselves.
func Filter(book []Entry, p FilterParams) []Entry {
	out := make([]Entry, 0, len(book))
	for _, e := range book {
		if p.Ignored[e.Counterparty] {
			continue
		}
		if len(p.AllowedTypes) > 0 && !contains(p.AllowedTypes, e.Offer.OrderType) {
			continue
		}
		if e.Offer.MinSize > p.TargetAmount || (e.Offer.MaxSize != 0 && e.Offer.MaxSize < p.TargetAmount) {
			continue
		}
		if p.HonestOnly && !p.HonestMakers[e.Counterparty] {
			continue
		}

		realFee := fees.RealCJFee(e.Offer.OrderType, e.Offer.CJFee, p.TargetAmount)
		relFraction := e.Offer.CJFee
		if !e.Offer.OrderType.IsRelative() && p.TargetAmount > 0 {
			relFraction = float64(realFee) / float64(p.TargetAmount)
		}
		if realFee > p.MaxCJFeeAbs && relFraction > p.MaxCJFeeRel {
			continue
		}

		out = append(out, e)
	}
	return out
}
