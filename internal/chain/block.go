package chain

import (
	"github.com/fractalpow/node/internal/fractal"
	"github.com/fractalpow/node/internal/merkle"
	"github.com/fractalpow/node/pkg/util"
)

// GenesisPrevHash is the all-zero-hex previous hash used by block 0
// (§4.4).
var GenesisPrevHash [32]byte

// Block is a FractalPoW block (§3). Position 0 in Transactions is
// always the coinbase.
type Block struct {
	Index            uint64
	PrevHash         [32]byte
	Timestamp        int64
	Transactions     []*Transaction
	MerkleRoot       [32]byte
	Nonce            uint64
	Difficulty       int // required leading zero bits, 0-256
	FractalCRe       float64
	FractalCIm       float64
	FractalDimension float64
	FractalSeed      [32]byte
}

// ComputeMerkleRoot recomputes the merkle root from the current
// transaction list (§4.4).
func (b *Block) ComputeMerkleRoot() [32]byte {
	leaves := make([][32]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		leaves[i] = tx.TxID
	}
	b.MerkleRoot = merkle.Root(leaves)
	return b.MerkleRoot
}

// headerBytes is the canonical serialization of the pre-filter header
// fields: (index, prev_hash, timestamp, merkle_root, nonce, difficulty,
// fractal_seed) (§4.4).
func (b *Block) headerBytes() []byte {
	buf := util.Uint64ToBytes(b.Index)
	buf = append(buf, b.PrevHash[:]...)
	buf = append(buf, util.Uint64ToBytes(uint64(b.Timestamp))...)
	buf = append(buf, b.MerkleRoot[:]...)
	buf = append(buf, util.Uint64ToBytes(b.Nonce)...)
	buf = append(buf, util.Uint64ToBytes(uint64(b.Difficulty))...)
	buf = append(buf, b.FractalSeed[:]...)
	return buf
}

// HeaderHash is the cheap header-hash pre-filter digest (§4.4, §4.6).
func (b *Block) HeaderHash() [32]byte {
	return util.Sha256(b.headerBytes())
}

// fullBytes is the canonical serialization of the full block,
// including the fractal fields, for block_hash (§4.4).
func (b *Block) fullBytes() []byte {
	buf := b.headerBytes()
	buf = append(buf, util.Float64Bytes(b.FractalCRe)...)
	buf = append(buf, util.Float64Bytes(b.FractalCIm)...)
	buf = append(buf, util.Float64Bytes(b.FractalDimension)...)
	return buf
}

// BlockHash is SHA-256 over the full canonical block, including the
// fractal parameters and dimension (§3, §4.4).
func (b *Block) BlockHash() [32]byte {
	return util.Sha256(b.fullBytes())
}

// FractalParams returns the block's Julia-set constant.
func (b *Block) FractalParams() fractal.Params {
	return fractal.Params{CRe: b.FractalCRe, CIm: b.FractalCIm}
}

// CoinbaseAddress returns the recipient address of the coinbase
// transaction (position 0), the address hashed into the fractal seed
// as the miner's declared address (§4.7, §9 open question).
func (b *Block) CoinbaseAddress() string {
	if len(b.Transactions) == 0 {
		return ""
	}
	return b.Transactions[0].ToAddress
}

// Genesis constructs the deterministic genesis block for a network:
// index 0, all-zero prev_hash, and fixed fractal parameters/seed baked
// into network constants (§4.4).
func Genesis(params fractal.Params, seed [32]byte, dimension float64, timestamp int64, coinbase *Transaction) *Block {
	b := &Block{
		Index:            0,
		PrevHash:         GenesisPrevHash,
		Timestamp:        timestamp,
		Transactions:     []*Transaction{coinbase},
		Nonce:            0,
		Difficulty:       0,
		FractalCRe:       params.CRe,
		FractalCIm:       params.CIm,
		FractalDimension: dimension,
		FractalSeed:      seed,
	}
	b.ComputeMerkleRoot()
	return b
}
