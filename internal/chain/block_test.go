package chain

import (
	"testing"

	"github.com/fractalpow/node/internal/fractal"
)

func fractalParamsFixture() fractal.Params {
	return fractal.Params{CRe: 0.1, CIm: -0.2}
}

func coinbaseTx(to string, amount Amount) *Transaction {
	tx := &Transaction{ToAddress: to, Amount: amount, Timestamp: 1700000000}
	tx.ComputeTxID()
	return tx
}

func TestBlockMerkleRootMatchesTxIDs(t *testing.T) {
	b := &Block{Transactions: []*Transaction{
		coinbaseTx("minerAddressXXXXXXXXXXXXXXXXXXXX", 50*Scale),
	}}
	root := b.ComputeMerkleRoot()
	if root != b.Transactions[0].TxID {
		t.Fatalf("single-tx merkle root should equal its txid")
	}
}

func TestBlockHashChangesWithFractalFields(t *testing.T) {
	b := &Block{Transactions: []*Transaction{coinbaseTx("addrXXXXXXXXXXXXXXXXXXXXXXXXXXXX", 50*Scale)}}
	b.ComputeMerkleRoot()
	h1 := b.BlockHash()

	b.FractalDimension = 1.5
	h2 := b.BlockHash()
	if h1 == h2 {
		t.Fatal("block hash should change when fractal dimension changes")
	}
}

func TestHeaderHashExcludesFractalParams(t *testing.T) {
	b := &Block{Transactions: []*Transaction{coinbaseTx("addrXXXXXXXXXXXXXXXXXXXXXXXXXXXX", 50*Scale)}}
	b.ComputeMerkleRoot()
	h1 := b.HeaderHash()

	b.FractalDimension = 1.5
	b.FractalCRe = 0.3
	h2 := b.HeaderHash()
	if h1 != h2 {
		t.Fatal("header hash must not depend on fractal fields")
	}
}

func TestGenesisBlock(t *testing.T) {
	cb := coinbaseTx("genesisMinerAddressXXXXXXXXXXXXX", 50*Scale)
	g := Genesis(fractalParamsFixture(), [32]byte{1}, 1.5, 1700000000, cb)
	if g.Index != 0 {
		t.Fatalf("genesis index = %d, want 0", g.Index)
	}
	if g.PrevHash != GenesisPrevHash {
		t.Fatal("genesis prev_hash must be all-zero")
	}
	g2 := Genesis(fractalParamsFixture(), [32]byte{1}, 1.5, 1700000000, cb)
	if g.BlockHash() != g2.BlockHash() {
		t.Fatal("genesis block hash must be deterministic across runs")
	}
}

func TestCoinbaseAddress(t *testing.T) {
	cb := coinbaseTx("minerABCXXXXXXXXXXXXXXXXXXXXXXXX", 50*Scale)
	b := &Block{Transactions: []*Transaction{cb}}
	if b.CoinbaseAddress() != "minerABCXXXXXXXXXXXXXXXXXXXXXXXX" {
		t.Fatal("CoinbaseAddress should return position-0 recipient")
	}
}
