// Package pow implements both stages of FractalPoW: the header-hash
// leading-zero-bit pre-filter and the Julia-set box-counting dimension
// check, plus the deterministic re-derivation a verifier performs
// against a received block (§4.5-4.7). The ordered-gate style mirrors
// the teacher's ValidationError checks in
// internal/sharechain/validation.go.
package pow

import (
	"fmt"

	"github.com/fractalpow/node/internal/chain"
	"github.com/fractalpow/node/internal/fractal"
	"github.com/fractalpow/node/pkg/util"
)

// Target bundles the two jointly-adjusted difficulty parameters a
// block is checked against (§4.8).
type Target struct {
	HeaderBits       int
	TargetDimension  float64
	Epsilon          float64
}

// Verify re-derives and checks both PoW stages for a block (§4.7):
//
//  1. header_hash has >= HeaderBits leading zero bits.
//  2. fractal_seed recomputed from (prev_hash, coinbase miner address,
//     nonce) matches the block's stored seed.
//  3. c re-derived from the seed matches fractal_params.
//  4. the grid/dimension recomputed from the seed equals the stored
//     dimension and satisfies valid_fractal.
//
// All four gates are hard errors; none mutate the block.
func Verify(b *chain.Block, target Target) error {
	headerHash := b.HeaderHash()
	if !util.MeetsDifficulty(headerHash, target.HeaderBits) {
		return chain.Reject(chain.ReasonInvalidPoW, fmt.Errorf(
			"header hash has %d leading zero bits, need %d",
			util.LeadingZeroBits(headerHash), target.HeaderBits))
	}

	minerAddr := b.CoinbaseAddress()
	expectedSeed := fractal.DeriveSeed(b.PrevHash, minerAddr, b.Nonce)
	if expectedSeed != b.FractalSeed {
		return chain.Reject(chain.ReasonInvalidFractal, fmt.Errorf(
			"fractal seed mismatch: expected %x, got %x", expectedSeed, b.FractalSeed))
	}

	expectedParams := fractal.DeriveParams(b.FractalSeed)
	storedParams := b.FractalParams()
	if expectedParams != storedParams {
		return chain.Reject(chain.ReasonInvalidFractal, fmt.Errorf(
			"fractal params mismatch: expected %+v, got %+v", expectedParams, storedParams))
	}

	result := fractal.Compute(expectedParams)
	if result.Dimension != b.FractalDimension {
		return chain.Reject(chain.ReasonInvalidFractal, fmt.Errorf(
			"fractal dimension mismatch: recomputed %f, stored %f",
			result.Dimension, b.FractalDimension))
	}
	if !fractal.Valid(result.Dimension, target.TargetDimension, target.Epsilon) {
		return chain.Reject(chain.ReasonInvalidFractal, fmt.Errorf(
			"dimension %f outside target %f +/- %f",
			result.Dimension, target.TargetDimension, target.Epsilon))
	}

	return nil
}
