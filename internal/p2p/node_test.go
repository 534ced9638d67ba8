package p2p

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fractalpow/node/internal/chain"
	"github.com/fractalpow/node/internal/chainmgr"
	"github.com/fractalpow/node/internal/mempool"
	"github.com/fractalpow/node/internal/pow"
	"github.com/fractalpow/node/internal/store"
)

func newTestNode(t *testing.T) (*Node, *chainmgr.Manager) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "chain.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	pool := mempool.New()
	manager, err := chainmgr.New(s, pool, chain.Difficulty{HeaderBits: 0, TargetDimension: 1.0, Epsilon: 1.0}, nil)
	if err != nil {
		t.Fatalf("chainmgr.New: %v", err)
	}
	t.Cleanup(func() { manager.Close(); s.Close() })

	identity, err := LoadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}

	// The node's pool must be the same instance the chain manager
	// mutates, so a peer's get_tx for a still-pending (unmined)
	// transaction can actually be served (§4.10).
	n, err := NewNode("127.0.0.1:0", "testnet", identity, manager, pool, zap.NewNop())
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	go n.Run()
	return n, manager
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestTwoNodesHandshakeAndPropagateBlock(t *testing.T) {
	nodeA, managerA := newTestNode(t)
	nodeB, managerB := newTestNode(t)

	if err := nodeA.Dial(nodeB.Addr().String()); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return nodeA.PeerCount() == 1 && nodeB.PeerCount() == 1
	})

	candidate, difficulty, err := managerA.AssembleCandidate("minerAddrXXXXXXXXXXXXXXXXXXXXXXX")
	if err != nil {
		t.Fatalf("AssembleCandidate: %v", err)
	}
	target := pow.Target{HeaderBits: difficulty.HeaderBits, TargetDimension: difficulty.TargetDimension, Epsilon: difficulty.Epsilon}
	block, err := pow.NewMiner(nil).Mine(t.Context(), candidate, target)
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if err := managerA.AddBlock(block); err != nil {
		t.Fatalf("AddBlock on A: %v", err)
	}

	nodeA.BroadcastInvBlock(block.BlockHash(), block.Index, nil)

	var got *chain.Block
	waitFor(t, 2*time.Second, func() bool {
		b, ok := managerB.GetBlockByHash(block.BlockHash())
		got = b
		return ok
	})
	if got.Index != block.Index {
		t.Fatalf("Index = %d, want %d", got.Index, block.Index)
	}
}

// TestNewPeerSyncsBacklogOnConnect exercises the Syncing state when a
// peer dials in already ahead of the local chain (§4.10): RunSync must
// drive get_headers/get_block to completion over a connection whose
// ReadLoop is running concurrently, not block forever waiting on a
// response nothing is reading.
func TestNewPeerSyncsBacklogOnConnect(t *testing.T) {
	nodeA, managerA := newTestNode(t)
	nodeB, managerB := newTestNode(t)

	for i := 0; i < 3; i++ {
		candidate, difficulty, err := managerA.AssembleCandidate("minerAddrXXXXXXXXXXXXXXXXXXXXXXX")
		if err != nil {
			t.Fatalf("AssembleCandidate: %v", err)
		}
		target := pow.Target{HeaderBits: difficulty.HeaderBits, TargetDimension: difficulty.TargetDimension, Epsilon: difficulty.Epsilon}
		block, err := pow.NewMiner(nil).Mine(t.Context(), candidate, target)
		if err != nil {
			t.Fatalf("Mine: %v", err)
		}
		if err := managerA.AddBlock(block); err != nil {
			t.Fatalf("AddBlock on A: %v", err)
		}
	}
	if managerA.Height() != 3 {
		t.Fatalf("managerA.Height() = %d, want 3", managerA.Height())
	}

	if err := nodeB.Dial(nodeA.Addr().String()); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return managerB.Height() == 3
	})
	for i := uint64(1); i <= 3; i++ {
		wantBlock, _ := managerA.GetBlock(i)
		gotBlock, ok := managerB.GetBlock(i)
		if !ok || gotBlock.BlockHash() != wantBlock.BlockHash() {
			t.Fatalf("block %d not synced correctly", i)
		}
	}
}
