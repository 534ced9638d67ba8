// Package chainmgr implements the chain manager actor (§4.9): the
// single owner of the persistent store, the mempool, and the
// difficulty state. All mutations route through one bounded request
// queue processed by a single goroutine, replacing the implicit global
// locking a naive implementation would reach for, per the "Single-writer
// state" design note. Grounded on the teacher's channel-owned-state
// style in internal/p2p/node.go and internal/work/generator.go, and its
// zap logging conventions.
package chainmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fractalpow/node/internal/chain"
	"github.com/fractalpow/node/internal/mempool"
	"github.com/fractalpow/node/internal/metrics"
	"github.com/fractalpow/node/internal/pow"
	"github.com/fractalpow/node/internal/store"
	"github.com/fractalpow/node/internal/validate"
)

// requestQueueSize bounds the number of in-flight mutation requests,
// matching the teacher's buffered-channel sizing convention (e.g.
// jobCh in internal/work/generator.go).
const requestQueueSize = 256

// Manager is the chain manager actor.
type Manager struct {
	store  *store.Store
	pool   *mempool.Pool
	logger *zap.Logger

	mu         sync.RWMutex // protects difficulty and tip cache only
	difficulty chain.Difficulty
	tip        *chain.Block

	reqCh chan func()
	done  chan struct{}
}

// New constructs a Manager over an already-open store, seeding the
// difficulty state from the store's persisted value or, for a brand
// new chain, genesisDifficulty. A store with no blocks at all is
// seeded with the network's canonical genesis block before New
// returns, so every booted node satisfies §8 scenario 1 ("Boot on an
// empty store ... assert height = 0, get_block(0) returns the
// canonical genesis block") without a separate bootstrap step.
func New(s *store.Store, pool *mempool.Pool, genesisDifficulty chain.Difficulty, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	difficulty, ok := s.GetDifficulty()
	if !ok {
		difficulty = genesisDifficulty
	}

	var tip *chain.Block
	if height, ok := s.Height(); ok {
		tip, _ = s.GetBlock(height)
	} else {
		genesis := chain.DefaultGenesis()
		delta := map[string]chain.Amount{genesis.CoinbaseAddress(): genesis.Transactions[0].Amount}
		if err := s.ApplyBlock(genesis, delta); err != nil {
			return nil, fmt.Errorf("seed genesis block: %w", err)
		}
		tip = genesis
	}

	m := &Manager{
		store:      s,
		pool:       pool,
		logger:     logger,
		difficulty: difficulty,
		tip:        tip,
		reqCh:      make(chan func(), requestQueueSize),
		done:       make(chan struct{}),
	}
	metrics.HeaderDifficultyBits.Set(float64(difficulty.HeaderBits))
	metrics.FractalEpsilon.Set(difficulty.Epsilon)
	if tip != nil {
		metrics.ChainHeight.Set(float64(tip.Index))
	}
	go m.run()
	return m, nil
}

// run is the single-writer loop: every mutation is a closure processed
// here, one at a time, in submission order.
func (m *Manager) run() {
	for {
		select {
		case fn := <-m.reqCh:
			fn()
		case <-m.done:
			return
		}
	}
}

// Close stops the manager's run loop. It does not close the underlying
// store, which the caller owns.
func (m *Manager) Close() {
	close(m.done)
}

// enqueue submits fn to the single-writer loop and blocks until it has
// run, returning its error.
func (m *Manager) enqueue(fn func() error) error {
	result := make(chan error, 1)
	m.reqCh <- func() { result <- fn() }
	return <-result
}

// Tip returns the current chain tip, or nil if the chain is empty.
// Reads bypass the actor queue: bbolt view transactions are safe for
// concurrent readers, and m.tip is only ever written from inside run().
func (m *Manager) Tip() *chain.Block {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tip
}

// Height returns the current chain height, or 0 if empty.
func (m *Manager) Height() uint64 {
	tip := m.Tip()
	if tip == nil {
		return 0
	}
	return tip.Index
}

// GetBlock looks up a block by index.
func (m *Manager) GetBlock(index uint64) (*chain.Block, bool) {
	return m.store.GetBlock(index)
}

// GetBlockByHash looks up a block by its full hash.
func (m *Manager) GetBlockByHash(hash [32]byte) (*chain.Block, bool) {
	return m.store.GetBlockByHash(hash)
}

// GetBalance returns the current balance for an address.
func (m *Manager) GetBalance(address string) chain.Amount {
	return m.store.GetBalance(address)
}

// Difficulty returns a snapshot of the current difficulty parameters.
func (m *Manager) Difficulty() chain.Difficulty {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.difficulty
}

// SubmitTransaction validates tx against the current ledger state and
// admits it to the mempool (§4.9: "submit_transaction(tx) -> Ok |
// RejectReason").
func (m *Manager) SubmitTransaction(tx *chain.Transaction) error {
	err := m.enqueue(func() error {
		if err := tx.Validate(m.store.GetBalance); err != nil {
			return err
		}
		m.pool.Add(tx)
		return nil
	})
	if err != nil {
		metrics.TransactionsSubmittedTotal.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.TransactionsSubmittedTotal.WithLabelValues("accepted").Inc()
	metrics.MempoolSize.Set(float64(m.pool.Len()))
	return nil
}

// AddBlock validates and persists a block received locally (from
// mining) or from a peer (§4.9: "add_block(block) -> Ok | RejectReason").
func (m *Manager) AddBlock(b *chain.Block) error {
	err := m.enqueue(func() error {
		v := validate.NewValidator(m.parentLookupLocked, m.Difficulty(), nil)
		if err := v.ValidateBlock(b); err != nil {
			return err
		}
		if err := v.ValidateTransactions(b, m.store.GetBalance); err != nil {
			return err
		}

		deltas := computeDeltas(b)
		if err := m.store.ApplyBlock(b, deltas); err != nil {
			return fmt.Errorf("apply block %d: %w", b.Index, err)
		}

		txids := make([][32]byte, len(b.Transactions))
		for i, t := range b.Transactions {
			txids[i] = t.TxID
		}
		m.pool.Remove(txids)

		m.mu.Lock()
		m.tip = b
		m.mu.Unlock()

		if chain.ShouldRetarget(b.Index) {
			first, ok := m.store.GetBlock(b.Index - chain.RetargetInterval + 1)
			if ok {
				next := m.Difficulty().Retarget(first.Timestamp, b.Timestamp)
				m.mu.Lock()
				m.difficulty = next
				m.mu.Unlock()
				if err := m.store.SetDifficulty(next); err != nil {
					m.logger.Warn("failed to persist retargeted difficulty", zap.Error(err))
				}
				m.logger.Info("difficulty retargeted",
					zap.Int("header_bits", next.HeaderBits),
					zap.Float64("epsilon", next.Epsilon),
				)
				metrics.HeaderDifficultyBits.Set(float64(next.HeaderBits))
				metrics.FractalEpsilon.Set(next.Epsilon)
			}
		}

		return nil
	})
	if err != nil {
		metrics.BlockApplicationsTotal.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.BlockApplicationsTotal.WithLabelValues("accepted").Inc()
	metrics.ChainHeight.Set(float64(b.Index))
	metrics.MempoolSize.Set(float64(m.pool.Len()))
	return nil
}

// parentLookupLocked is passed to the validator as its ParentLookup.
// It is only ever invoked from inside the run() goroutine and reads the
// parent straight from the store, without touching m.difficulty/m.tip.
func (m *Manager) parentLookupLocked(index uint64) (*chain.Block, bool) {
	return m.store.GetBlock(index)
}

func computeDeltas(b *chain.Block) map[string]chain.Amount {
	deltas := make(map[string]chain.Amount)
	for i, tx := range b.Transactions {
		if i == 0 {
			deltas[tx.ToAddress] += tx.Amount
			continue
		}
		deltas[tx.FromAddress] -= tx.Amount + tx.Fee
		deltas[tx.ToAddress] += tx.Amount
	}
	return deltas
}

// AssembleCandidate builds an unmined candidate for minerAddress from
// the current tip and mempool (§4.6 step 1, §4.9:
// "assemble_candidate(miner_address) -> Block").
func (m *Manager) AssembleCandidate(minerAddress string) (pow.Candidate, chain.Difficulty, error) {
	m.mu.RLock()
	tip := m.tip
	difficulty := m.difficulty
	m.mu.RUnlock()

	var index uint64
	var prevHash [32]byte
	if tip != nil {
		index = tip.Index + 1
		prevHash = tip.BlockHash()
	} else {
		index = 0
		prevHash = chain.GenesisPrevHash
	}

	var feeSum chain.Amount
	txs := m.pool.SelectForBlock(m.store.GetBalance)
	for _, tx := range txs {
		feeSum += tx.Fee
	}

	coinbase := &chain.Transaction{
		ToAddress: minerAddress,
		Amount:    chain.BlockReward(index) + feeSum,
		Timestamp: time.Now().Unix(),
	}
	coinbase.ComputeTxID()

	candidate := pow.Candidate{
		Index:        index,
		PrevHash:     prevHash,
		Timestamp:    coinbase.Timestamp,
		Transactions: append([]*chain.Transaction{coinbase}, txs...),
		MinerAddress: minerAddress,
	}
	return candidate, difficulty, nil
}

// WatchTip calls onNewTip whenever the chain tip advances while ctx is
// active, used by a running miner to abort a stale search (§4.6 step 3:
// "abort ... when parent tip advances"). It polls at a fixed interval
// rather than subscribing, keeping the actor's internal state private.
func (m *Manager) WatchTip(ctx context.Context, pollInterval time.Duration, onNewTip func(*chain.Block)) {
	last := m.Tip()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := m.Tip()
			if current != nil && (last == nil || current.Index != last.Index) {
				last = current
				onNewTip(current)
			}
		}
	}
}
