package orderbook

import "errors"

// ErrInsufficientLiquidity is returned when, after every filter stage,
// fewer than N candidates remain.
var ErrInsufficientLiquidity = errors.New("orderbook: insufficient liquidity after filtering")
