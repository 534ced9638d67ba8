package pow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fractalpow/node/internal/chain"
	"github.com/fractalpow/node/internal/fractal"
	"github.com/fractalpow/node/pkg/util"
)

// checkInterval is how often the nonce search polls ctx.Done(), mirroring
// the teacher's poll-loop cadence in internal/work/generator.go adapted
// from a wall-clock ticker to a nonce-count ticker since mining is a tight
// CPU loop rather than an RPC poll.
const checkInterval = 4096

// Candidate is an assembled, unmined block body: everything needed to
// search for a nonce except the PoW fields themselves (§4.6).
type Candidate struct {
	Index        uint64
	PrevHash     [32]byte
	Timestamp    int64
	Transactions []*chain.Transaction
	MinerAddress string
}

// Miner searches for a nonce satisfying both FractalPoW stages (§4.6).
type Miner struct {
	logger *zap.Logger
}

// NewMiner constructs a Miner. A nil logger is replaced with zap.NewNop(),
// following the teacher's convention of never dereferencing a nil logger.
func NewMiner(logger *zap.Logger) *Miner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Miner{logger: logger}
}

// Mine assembles the candidate into a block and searches nonces starting
// from 0 until the header hash clears the HeaderBits pre-filter and the
// resulting fractal dimension falls within Epsilon of TargetDimension, or
// ctx is cancelled (§4.6a-c). The pre-filter is checked first on every
// nonce since it is orders of magnitude cheaper than rendering the
// fractal grid.
func (m *Miner) Mine(ctx context.Context, c Candidate, target Target) (*chain.Block, error) {
	b := &chain.Block{
		Index:        c.Index,
		PrevHash:     c.PrevHash,
		Timestamp:    c.Timestamp,
		Transactions: c.Transactions,
		Difficulty:   target.HeaderBits,
	}
	b.ComputeMerkleRoot()

	var nonce uint64
	for {
		for i := 0; i < checkInterval; i++ {
			b.Nonce = nonce
			b.FractalSeed = fractal.DeriveSeed(c.PrevHash, c.MinerAddress, nonce)

			if util.MeetsDifficulty(b.HeaderHash(), target.HeaderBits) {
				params := fractal.DeriveParams(b.FractalSeed)
				result := fractal.Compute(params)
				if fractal.Valid(result.Dimension, target.TargetDimension, target.Epsilon) {
					b.FractalCRe = params.CRe
					b.FractalCIm = params.CIm
					b.FractalDimension = result.Dimension
					m.logger.Info("block mined",
						zap.Uint64("index", b.Index),
						zap.Uint64("nonce", nonce),
						zap.Float64("dimension", result.Dimension),
					)
					return b, nil
				}
			}

			nonce++
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mining cancelled at nonce %d: %w", nonce, ctx.Err())
		default:
		}
	}
}
