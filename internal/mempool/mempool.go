// Package mempool holds unconfirmed transactions awaiting inclusion in
// a block (§3, §4.9). It is owned exclusively by the chain manager's
// single-writer task; callers outside that task only ever see snapshots.
package mempool

import (
	"sort"
	"sync"

	"github.com/fractalpow/node/internal/chain"
)

// MaxSize is the maximum number of pending transactions held at once
// (§3: "bounded, e.g. 10,000 entries").
const MaxSize = 10000

// MaxCandidateBytes bounds the serialized size of transactions drawn
// into a mining candidate (§4.6: "up to 1 MB serialized").
const MaxCandidateBytes = 1 << 20

// Pool is a bounded, txid-keyed set of pending transactions with
// lowest-fee-first eviction, adapted from the teacher's storeJob
// eviction-by-oldest-sequence pattern in internal/work/generator.go —
// here the eviction key is fee rather than arrival order, since the
// mempool's scarce resource is block space, not freshness.
type Pool struct {
	mu  sync.RWMutex
	txs map[[32]byte]*chain.Transaction
}

// New constructs an empty pool.
func New() *Pool {
	return &Pool{txs: make(map[[32]byte]*chain.Transaction)}
}

// Add admits tx, evicting the lowest-fee entry if the pool is already
// at MaxSize. Callers are expected to have already run tx.Validate
// before calling Add; Add itself performs no validation.
func (p *Pool) Add(tx *chain.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.txs[tx.TxID]; exists {
		return
	}

	if len(p.txs) >= MaxSize {
		p.evictLowestFeeLocked()
	}
	p.txs[tx.TxID] = tx
}

// evictLowestFeeLocked removes the single lowest-fee transaction. Ties
// are broken by txid for determinism across nodes. Caller must hold
// the write lock.
func (p *Pool) evictLowestFeeLocked() {
	var lowestID [32]byte
	var lowestTx *chain.Transaction
	for id, tx := range p.txs {
		if lowestTx == nil ||
			tx.Fee < lowestTx.Fee ||
			(tx.Fee == lowestTx.Fee && lessHash(id, lowestID)) {
			lowestID = id
			lowestTx = tx
		}
	}
	if lowestTx != nil {
		delete(p.txs, lowestID)
	}
}

func lessHash(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Remove deletes the transactions with the given txids, called once
// their containing block has been committed (§3: "removed when
// included in a persisted block").
func (p *Pool) Remove(txids [][32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range txids {
		delete(p.txs, id)
	}
}

// Get returns the transaction for txid, or nil if absent.
func (p *Pool) Get(txid [32]byte) *chain.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.txs[txid]
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// SelectForBlock returns a fee-prioritized, size-bounded slice of
// pending transactions suitable for a mining candidate (§4.6a: "coinbase
// first, then fee-prioritized mempool txs, up to 1 MB serialized").
// Candidates that would overdraft the ledger are skipped: getBalance
// supplies each sender's committed balance, and SelectForBlock itself
// subtracts the amount+fee of that sender's transactions already
// selected, in selection order, per §3's "rejected at assembly, not at
// submission."
func (p *Pool) SelectForBlock(getBalance chain.GetBalanceFunc) []*chain.Transaction {
	p.mu.RLock()
	candidates := make([]*chain.Transaction, 0, len(p.txs))
	for _, tx := range p.txs {
		candidates = append(candidates, tx)
	}
	p.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Fee != candidates[j].Fee {
			return candidates[i].Fee > candidates[j].Fee
		}
		return lessHash(candidates[i].TxID, candidates[j].TxID)
	})

	spent := make(map[string]chain.Amount)
	selected := make([]*chain.Transaction, 0, len(candidates))
	size := 0

	for _, tx := range candidates {
		txSize := estimateSize(tx)
		if size+txSize > MaxCandidateBytes {
			continue
		}

		balance := getBalance(tx.FromAddress) - spent[tx.FromAddress]
		if balance < tx.Amount+tx.Fee {
			continue
		}

		spent[tx.FromAddress] += tx.Amount + tx.Fee
		selected = append(selected, tx)
		size += txSize
	}

	return selected
}

// estimateSize approximates a transaction's serialized footprint for
// the candidate size bound; it need not be exact, only stable and
// monotone in the transaction's variable-length fields.
func estimateSize(tx *chain.Transaction) int {
	return len(tx.FromAddress) + len(tx.ToAddress) + len(tx.Signature) + len(tx.PublicKey) + 64
}
