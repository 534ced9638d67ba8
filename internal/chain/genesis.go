package chain

import (
	"github.com/fractalpow/node/internal/fractal"
	"github.com/fractalpow/node/pkg/util"
)

// GenesisRewardAddress receives the genesis block's coinbase output.
// It is a network constant, not a key anyone controls, mirroring how
// the teacher's chain-wide constants (compact bits, network magic) are
// fixed at compile time rather than configured.
const GenesisRewardAddress = "genesis00000000000000000000000000"

// GenesisTimestamp is the fixed Unix timestamp baked into the genesis
// block (§4.4).
const GenesisTimestamp int64 = 1700000000

// GenesisDifficulty is the chain-wide difficulty new nodes start from
// before their first retarget (§4.8: "target_dimension is constant per
// network").
var GenesisDifficulty = Difficulty{
	HeaderBits:      1,
	TargetDimension: 1.5,
	Epsilon:         0.001,
}

// genesisSeed is the fixed 32-byte seed the genesis block's fractal
// parameters are derived from, itself derived the same way a mined
// block's seed would be (§4.5) but from fixed, published inputs rather
// than a live prev_hash/miner/nonce triple.
var genesisSeed = util.Sha256([]byte("fractalpow-genesis"))

// DefaultGenesis constructs the network's canonical genesis block
// (§4.4): index 0, all-zero prev_hash, a single coinbase crediting
// GenesisRewardAddress with the block-0 subsidy, and fractal parameters
// and dimension re-derived from the fixed genesis seed through the same
// engine a verifier would use — so the genesis block is exactly as
// deterministic and re-derivable as any mined block (§4.5's
// "determinism requirement"), just never subject to the PoW search or
// the validation pipeline's parent/timestamp/PoW gates.
func DefaultGenesis() *Block {
	params := fractal.DeriveParams(genesisSeed)
	result := fractal.Compute(params)

	coinbase := &Transaction{
		ToAddress: GenesisRewardAddress,
		Amount:    BlockReward(0),
		Timestamp: GenesisTimestamp,
	}
	coinbase.ComputeTxID()

	return Genesis(params, genesisSeed, result.Dimension, GenesisTimestamp, coinbase)
}
