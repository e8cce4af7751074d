package podle

import "errors"

var (
	errNumsExhausted  = errors.New("podle: could not derive NUMS point J(u,i) in bounded attempts")
	errMalformedProof = errors.New("podle: malformed proof component")
)
