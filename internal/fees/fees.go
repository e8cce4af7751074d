// Package fees computes coinjoin fee and change-value arithmetic.
// All arithmetic is integer satoshis; RealCJFee rounds toward zero.
package fees

import "github.com/rawblock/joinmarket-core/pkg/models"

// RealCJFee converts an offer's advertised cjfee into the actual
// satoshi amount a maker earns for a coinjoin of the given size.
// Absolute ordertypes pass cjfee through unchanged; relative ordertypes
// floor(amount * cjfee).
func RealCJFee(ordertype models.OrderType, cjfee float64, amount int64) int64 {
	if !ordertype.IsRelative() {
		return int64(cjfee)
	}
	return int64(float64(amount) * cjfee)
}

// MakerChange computes a maker's change output value:
//
//	change = total_maker_in - cj_amount - maker_tx_fee + real_cj_fee
func MakerChange(totalMakerIn, cjAmount, makerTxFee, realCJFee int64) int64 {
	return totalMakerIn - cjAmount - makerTxFee + realCJFee
}

// TakerTxFeeShare computes the taker's share of the estimated miner fee
// after makers' txfee contributions are subtracted, floored at zero.
func TakerTxFeeShare(estimatedFee, makerTxFeeContributions int64) int64 {
	share := estimatedFee - makerTxFeeContributions
	if share < 0 {
		return 0
	}
	return share
}

// TakerChange computes the taker's own change output value:
//
//	taker_change = total_taker_in - cj_amount - Σreal_cj_fee(makers) - taker_tx_fee_share
func TakerChange(totalTakerIn, cjAmount, cjFeeTotal, takerTxFeeShare int64) int64 {
	return totalTakerIn - cjAmount - cjFeeTotal - takerTxFeeShare
}
