package store

import (
	"path/filepath"
	"testing"

	"github.com/fractalpow/node/internal/chain"
)

func testBlock(index uint64, prevHash [32]byte, minerAddr string) *chain.Block {
	cb := &chain.Transaction{ToAddress: minerAddr, Amount: chain.BlockReward(index), Timestamp: 1700000000 + int64(index)}
	cb.ComputeTxID()
	b := &chain.Block{
		Index:        index,
		PrevHash:     prevHash,
		Timestamp:    1700000000 + int64(index),
		Transactions: []*chain.Transaction{cb},
		Nonce:        index,
	}
	b.ComputeMerkleRoot()
	return b
}

func TestApplyBlockAndGetBlock(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	b := testBlock(0, chain.GenesisPrevHash, "minerAddrXXXXXXXXXXXXXXXXXXXXXXX")
	deltas := map[string]chain.Amount{"minerAddrXXXXXXXXXXXXXXXXXXXXXXX": b.Transactions[0].Amount}
	if err := s.ApplyBlock(b, deltas); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	got, ok := s.GetBlock(0)
	if !ok {
		t.Fatal("block not found after ApplyBlock")
	}
	if got.BlockHash() != b.BlockHash() {
		t.Fatal("round-tripped block hash mismatch")
	}
	if bal := s.GetBalance("minerAddrXXXXXXXXXXXXXXXXXXXXXXX"); bal != b.Transactions[0].Amount {
		t.Fatalf("balance = %s, want %s", bal, b.Transactions[0].Amount)
	}
}

func TestApplyBlockRejectsDuplicateIndex(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	b := testBlock(0, chain.GenesisPrevHash, "minerAddrXXXXXXXXXXXXXXXXXXXXXXX")
	if err := s.ApplyBlock(b, nil); err != nil {
		t.Fatalf("first ApplyBlock: %v", err)
	}
	if err := s.ApplyBlock(b, nil); err == nil {
		t.Fatal("expected error applying a block at an already-stored index")
	}
}

func TestGetBlockByHash(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	b := testBlock(0, chain.GenesisPrevHash, "minerAddrXXXXXXXXXXXXXXXXXXXXXXX")
	if err := s.ApplyBlock(b, nil); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	got, ok := s.GetBlockByHash(b.BlockHash())
	if !ok {
		t.Fatal("block not found by hash")
	}
	if got.Index != 0 {
		t.Fatalf("Index = %d, want 0", got.Index)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	prevHash := chain.GenesisPrevHash
	var lastHash [32]byte
	{
		s, err := Open(dbPath, nil)
		if err != nil {
			t.Fatalf("Open (phase 1): %v", err)
		}
		for i := uint64(0); i < 5; i++ {
			b := testBlock(i, prevHash, "minerAddrXXXXXXXXXXXXXXXXXXXXXXX")
			if err := s.ApplyBlock(b, map[string]chain.Amount{"minerAddrXXXXXXXXXXXXXXXXXXXXXXX": b.Transactions[0].Amount}); err != nil {
				t.Fatalf("ApplyBlock %d: %v", i, err)
			}
			prevHash = b.BlockHash()
			lastHash = prevHash
		}
		if err := s.SetDifficulty(chain.Difficulty{HeaderBits: 4, TargetDimension: 1.5, Epsilon: 0.01}); err != nil {
			t.Fatalf("SetDifficulty: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	{
		s, err := Open(dbPath, nil)
		if err != nil {
			t.Fatalf("Open (phase 2): %v", err)
		}
		defer s.Close()

		if s.Count() != 5 {
			t.Fatalf("Count() = %d, want 5", s.Count())
		}
		height, ok := s.Height()
		if !ok || height != 4 {
			t.Fatalf("Height() = (%d, %v), want (4, true)", height, ok)
		}
		got, ok := s.GetBlockByHash(lastHash)
		if !ok || got.Index != 4 {
			t.Fatal("tip block not recoverable after reopen")
		}
		d, ok := s.GetDifficulty()
		if !ok || d.HeaderBits != 4 {
			t.Fatalf("GetDifficulty() = (%+v, %v)", d, ok)
		}
	}
}
