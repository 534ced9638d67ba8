// Package validate implements the full block-acceptance pipeline
// (§4.9's rejection reasons), tying together the chain data model
// (internal/chain), the PoW gates (internal/pow), and a store lookup
// for the parent block. It lives outside internal/chain to avoid a
// cyclic dependency between chain and pow.
package validate

import (
	"fmt"
	"time"

	"github.com/fractalpow/node/internal/chain"
	"github.com/fractalpow/node/internal/merkle"
	"github.com/fractalpow/node/internal/pow"
)

// MaxFutureDrift bounds how far a block's timestamp may sit ahead of
// the local clock (§4.9: "timestamp out of window").
const MaxFutureDrift = 2 * time.Hour

// MaxBlockBytes bounds a block's total serialized transaction payload
// (§4.9: "oversize block"), matching the miner's candidate-assembly
// bound (§4.6a).
const MaxBlockBytes = 1 << 20

// ParentLookup resolves a block's parent by index, used to check the
// link and recompute the expected coinbase reward.
type ParentLookup func(index uint64) (*chain.Block, bool)

// Validator performs every check a received or locally-assembled block
// must pass before the chain manager persists it. The ordered-check
// style mirrors the teacher's Validator.ValidateShare
// (internal/sharechain/validation.go): cheap, format-only checks run
// first, expensive cryptographic/PoW checks run last.
type Validator struct {
	parent     ParentLookup
	now        func() time.Time
	difficulty chain.Difficulty
}

// NewValidator constructs a Validator. nowFn defaults to time.Now when
// nil, overridable in tests for deterministic timestamp-window checks.
func NewValidator(parent ParentLookup, difficulty chain.Difficulty, nowFn func() time.Time) *Validator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Validator{parent: parent, now: nowFn, difficulty: difficulty}
}

// ValidateBlock runs the block-level checks of §4.9's rejection list
// (coinbase placement, size, parent link, timestamp window, merkle root,
// coinbase amount, PoW) and returns the first failure as a
// *chain.RejectError. Per-transaction signature and balance checks are
// done by ValidateTransactions; a block at an index the chain already
// holds is not detected here.
func (v *Validator) ValidateBlock(b *chain.Block) error {
	// 1. Must have at least a coinbase transaction.
	if len(b.Transactions) == 0 {
		return chain.Reject(chain.ReasonMalformed, fmt.Errorf("block has no transactions"))
	}
	if !b.Transactions[0].IsCoinbase() {
		return chain.Reject(chain.ReasonBadCoinbase, fmt.Errorf("position 0 is not a coinbase transaction"))
	}
	for i, tx := range b.Transactions[1:] {
		if tx.IsCoinbase() {
			return chain.Reject(chain.ReasonBadCoinbase, fmt.Errorf("unexpected coinbase at position %d", i+1))
		}
	}

	// 2. Size bound, before any expensive hashing.
	if size := estimateBlockBytes(b); size > MaxBlockBytes {
		return chain.Reject(chain.ReasonOversizeBlock, fmt.Errorf("block is %d bytes, max %d", size, MaxBlockBytes))
	}

	// 3. Parent link and index/timestamp ordering.
	var parent *chain.Block
	if b.Index > 0 {
		p, ok := v.parent(b.Index - 1)
		if !ok {
			return chain.Reject(chain.ReasonBadParent, fmt.Errorf("parent at index %d not found", b.Index-1))
		}
		parent = p
		if b.PrevHash != parent.BlockHash() {
			return chain.Reject(chain.ReasonBadParent, fmt.Errorf("prev_hash does not match parent block hash"))
		}
		if b.Timestamp < parent.Timestamp {
			return chain.Reject(chain.ReasonTimestampWindow, fmt.Errorf("timestamp %d precedes parent %d", b.Timestamp, parent.Timestamp))
		}
	} else if b.PrevHash != chain.GenesisPrevHash {
		return chain.Reject(chain.ReasonBadParent, fmt.Errorf("genesis block must reference the all-zero prev_hash"))
	}

	// 4. Timestamp not too far in the future.
	if time.Unix(b.Timestamp, 0).After(v.now().Add(MaxFutureDrift)) {
		return chain.Reject(chain.ReasonTimestampWindow, fmt.Errorf("timestamp %d is too far in the future", b.Timestamp))
	}

	// 5. Merkle root recomputation. b.ComputeMerkleRoot would overwrite
	// b.MerkleRoot with the correct value before we get to compare it,
	// so recompute into a local and leave the received field untouched.
	got := b.MerkleRoot
	leaves := make([][32]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		leaves[i] = tx.TxID
	}
	if want := merkle.Root(leaves); got != want {
		return chain.Reject(chain.ReasonBadMerkle, fmt.Errorf("merkle root mismatch"))
	}

	// 6. Coinbase amount: reward(height) + sum of fees.
	var feeSum chain.Amount
	for _, tx := range b.Transactions[1:] {
		feeSum += tx.Fee
	}
	expectedCoinbase := chain.BlockReward(b.Index) + feeSum
	if b.Transactions[0].Amount != expectedCoinbase {
		return chain.Reject(chain.ReasonBadCoinbase, fmt.Errorf(
			"coinbase amount %s does not equal reward+fees %s", b.Transactions[0].Amount, expectedCoinbase))
	}

	// 7. PoW: header-hash pre-filter, fractal re-derivation and validity.
	target := pow.Target{
		HeaderBits:      v.difficulty.HeaderBits,
		TargetDimension: v.difficulty.TargetDimension,
		Epsilon:         v.difficulty.Epsilon,
	}
	if err := pow.Verify(b, target); err != nil {
		return err
	}

	return nil
}

// ValidateTransactions runs tx.Validate sequentially against a running
// balance snapshot seeded from getBalance, so that a block spending the
// same sender's funds across multiple transactions is checked correctly
// (§3b, §4.9's "insufficient balance for any tx").
func (v *Validator) ValidateTransactions(b *chain.Block, getBalance chain.GetBalanceFunc) error {
	spent := make(map[string]chain.Amount)
	running := func(addr string) chain.Amount {
		return getBalance(addr) - spent[addr]
	}

	for i, tx := range b.Transactions {
		if i == 0 {
			if err := tx.Validate(nil); err != nil {
				return err
			}
			continue
		}
		if err := tx.Validate(running); err != nil {
			return err
		}
		spent[tx.FromAddress] += tx.Amount + tx.Fee
	}
	return nil
}

func estimateBlockBytes(b *chain.Block) int {
	size := 0
	for _, tx := range b.Transactions {
		size += len(tx.FromAddress) + len(tx.ToAddress) + len(tx.Signature) + len(tx.PublicKey) + 64
	}
	return size
}
