package validate

import (
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/fractalpow/node/internal/chain"
	"github.com/fractalpow/node/internal/crypto"
	"github.com/fractalpow/node/internal/fractal"
	"github.com/fractalpow/node/internal/pow"
)

func testKeyPair(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp.Private
}

func testAddress(t *testing.T, priv *secp256k1.PrivateKey) string {
	t.Helper()
	addr, err := crypto.AddressFromPub(priv.PubKey())
	if err != nil {
		t.Fatalf("AddressFromPub: %v", err)
	}
	return addr
}

func minedGenesis(t *testing.T, minerAddr string, target pow.Target) *chain.Block {
	t.Helper()
	cb := &chain.Transaction{ToAddress: minerAddr, Amount: chain.BlockReward(0), Timestamp: 1700000000}
	cb.ComputeTxID()

	for nonce := uint64(0); ; nonce++ {
		seed := fractal.DeriveSeed(chain.GenesisPrevHash, minerAddr, nonce)
		params := fractal.DeriveParams(seed)
		result := fractal.Compute(params)

		b := &chain.Block{
			Index:            0,
			PrevHash:         chain.GenesisPrevHash,
			Timestamp:        1700000100,
			Transactions:     []*chain.Transaction{cb},
			Nonce:            nonce,
			Difficulty:       target.HeaderBits,
			FractalCRe:       params.CRe,
			FractalCIm:       params.CIm,
			FractalDimension: result.Dimension,
			FractalSeed:      seed,
		}
		b.ComputeMerkleRoot()

		if pow.Verify(b, target) == nil {
			return b
		}
		if nonce > 200000 {
			t.Fatal("could not mine a valid genesis block within bound")
		}
	}
}

func TestValidateBlockAcceptsGenuineGenesis(t *testing.T) {
	minerAddr := "minerAddrXXXXXXXXXXXXXXXXXXXXXXX"
	target := pow.Target{HeaderBits: 0, TargetDimension: 1.0, Epsilon: 1.0}
	b := minedGenesis(t, minerAddr, target)

	v := NewValidator(
		func(uint64) (*chain.Block, bool) { return nil, false },
		chain.Difficulty{HeaderBits: target.HeaderBits, TargetDimension: target.TargetDimension, Epsilon: target.Epsilon},
		func() time.Time { return time.Unix(1700000200, 0) },
	)
	if err := v.ValidateBlock(b); err != nil {
		t.Fatalf("ValidateBlock rejected a genuinely mined genesis block: %v", err)
	}
}

func TestValidateBlockRejectsBadCoinbaseAmount(t *testing.T) {
	minerAddr := "minerAddrXXXXXXXXXXXXXXXXXXXXXXX"
	target := pow.Target{HeaderBits: 0, TargetDimension: 1.0, Epsilon: 1.0}
	b := minedGenesis(t, minerAddr, target)
	b.Transactions[0].Amount += 1
	b.ComputeMerkleRoot()

	v := NewValidator(
		func(uint64) (*chain.Block, bool) { return nil, false },
		chain.Difficulty{HeaderBits: target.HeaderBits, TargetDimension: target.TargetDimension, Epsilon: target.Epsilon},
		func() time.Time { return time.Unix(1700000200, 0) },
	)
	err := v.ValidateBlock(b)
	if err == nil {
		t.Fatal("expected rejection for tampered coinbase amount")
	}
	if re, ok := err.(*chain.RejectError); !ok || re.Reason != chain.ReasonBadCoinbase {
		t.Fatalf("expected ReasonBadCoinbase, got %v", err)
	}
}

func TestValidateBlockRejectsTamperedMerkleRoot(t *testing.T) {
	minerAddr := "minerAddrXXXXXXXXXXXXXXXXXXXXXXX"
	target := pow.Target{HeaderBits: 0, TargetDimension: 1.0, Epsilon: 1.0}
	b := minedGenesis(t, minerAddr, target)
	b.MerkleRoot[0] ^= 0xff

	v := NewValidator(
		func(uint64) (*chain.Block, bool) { return nil, false },
		chain.Difficulty{HeaderBits: target.HeaderBits, TargetDimension: target.TargetDimension, Epsilon: target.Epsilon},
		func() time.Time { return time.Unix(1700000200, 0) },
	)
	err := v.ValidateBlock(b)
	if err == nil {
		t.Fatal("expected rejection for tampered merkle root")
	}
	re, ok := err.(*chain.RejectError)
	if !ok || re.Reason != chain.ReasonBadMerkle {
		t.Fatalf("expected ReasonBadMerkle, got %v", err)
	}
}

func TestValidateBlockRejectsMissingParent(t *testing.T) {
	minerAddr := "minerAddrXXXXXXXXXXXXXXXXXXXXXXX"
	target := pow.Target{HeaderBits: 0, TargetDimension: 1.0, Epsilon: 1.0}
	b := minedGenesis(t, minerAddr, target)
	b.Index = 5

	v := NewValidator(
		func(uint64) (*chain.Block, bool) { return nil, false },
		chain.Difficulty{HeaderBits: target.HeaderBits, TargetDimension: target.TargetDimension, Epsilon: target.Epsilon},
		func() time.Time { return time.Unix(1700000200, 0) },
	)
	err := v.ValidateBlock(b)
	if re, ok := err.(*chain.RejectError); !ok || re.Reason != chain.ReasonBadParent {
		t.Fatalf("expected ReasonBadParent, got %v", err)
	}
}

func TestValidateTransactionsSequentialBalance(t *testing.T) {
	priv := testKeyPair(t)
	addr := testAddress(t, priv)

	cb := &chain.Transaction{ToAddress: "minerAddrXXXXXXXXXXXXXXXXXXXXXXX", Amount: chain.BlockReward(0), Timestamp: 1}
	cb.ComputeTxID()

	tx1 := &chain.Transaction{FromAddress: addr, ToAddress: "recipientAddrXXXXXXXXXXXXXXXXXXX", Amount: 40 * chain.Scale, Timestamp: 2}
	tx1.Sign(priv)
	tx2 := &chain.Transaction{FromAddress: addr, ToAddress: "recipientAddrXXXXXXXXXXXXXXXXXXX", Amount: 40 * chain.Scale, Timestamp: 3}
	tx2.Sign(priv)

	b := &chain.Block{Transactions: []*chain.Transaction{cb, tx1, tx2}}
	v := NewValidator(nil, chain.Difficulty{}, nil)

	err := v.ValidateTransactions(b, func(string) chain.Amount { return 50 * chain.Scale })
	if err == nil {
		t.Fatal("second transaction should fail once the first has spent most of the balance")
	}
}
