// Package testutil provides shared test fixtures and helpers, following
// the teacher's testutil layout. The fixtures below are domain-native
// (keypairs, signed transactions, easy mining difficulty) replacing the
// teacher's Bitcoin-block-template and share-chain fixtures, which this
// module has no use for — there is no external Bitcoin daemon and no
// p2pool sharechain here (§1).
package testutil

import (
	"testing"

	"github.com/fractalpow/node/internal/chain"
	"github.com/fractalpow/node/internal/crypto"
)

// Signer bundles a keypair with its derived address, so tests can both
// sign transactions and assert on the resulting balances.
type Signer struct {
	Keys    *crypto.KeyPair
	Address string
}

// NewSigner generates a fresh keypair and derives its address, failing
// the test on any crypto error.
func NewSigner(t *testing.T) Signer {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("crypto.GenerateKeyPair: %v", err)
	}
	addr, err := crypto.AddressFromPub(keys.Public)
	if err != nil {
		t.Fatalf("crypto.AddressFromPub: %v", err)
	}
	return Signer{Keys: keys, Address: addr}
}

// SignedTransfer builds and signs a transaction from `from` to `toAddr`
// for the given amount/fee/timestamp, ready for mempool submission.
func SignedTransfer(t *testing.T, from Signer, toAddr string, amount, fee chain.Amount, timestamp int64) *chain.Transaction {
	t.Helper()
	tx := &chain.Transaction{
		FromAddress: from.Address,
		ToAddress:   toAddr,
		Amount:      amount,
		Fee:         fee,
		Timestamp:   timestamp,
		PublicKey:   from.Keys.Public.SerializeUncompressed(),
	}
	tx.Sign(from.Keys.Private)
	return tx
}

// EasyDifficulty returns a FractalPoW target that any nonce clears
// immediately: zero required header bits and a target dimension/epsilon
// wide enough that the very first sampled grid is valid. Used by tests
// exercising the mining/apply path without burning CPU on a real search
// (spec §8 scenario 2: "D_h = 1 ... epsilon = 0.5 (wide for test)").
func EasyDifficulty() chain.Difficulty {
	return chain.Difficulty{
		HeaderBits:      0,
		TargetDimension: 1.5,
		Epsilon:         2.0,
	}
}
