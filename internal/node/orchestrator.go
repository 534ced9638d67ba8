// Package node wires the chain manager, the PoW miner, and the P2P
// layer into the three concurrent activities the running process
// actually needs (§5): network I/O, the miner, and chain apply. It is
// the adapted descendant of the teacher's internal/node event-type
// package — the teacher dispatched NewJobEvent/ShareSubmitEvent/
// P2PShareEvent/ChainEvent values through an external event loop this
// retrieval pack did not include; here the chain manager's own
// success/failure returns from AddBlock and SubmitTransaction take the
// place of those events, and the corresponding peer broadcast (§4.10:
// "on successful add_block/submit_transaction, broadcast ...") is
// performed right here, the one place that is allowed to depend on
// both the chain manager and the P2P node.
package node

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fractalpow/node/internal/chain"
	"github.com/fractalpow/node/internal/metrics"
	"github.com/fractalpow/node/internal/p2p"
	"github.com/fractalpow/node/internal/pow"
)

// tipPollInterval is how often WatchTip checks whether the chain tip
// has advanced out from under an in-progress mining attempt (§4.6
// step 3: "abort ... when parent tip advances").
const tipPollInterval = 500 * time.Millisecond

// ChainManager is the subset of chainmgr.Manager the orchestrator
// depends on.
type ChainManager interface {
	AddBlock(b *chain.Block) error
	SubmitTransaction(tx *chain.Transaction) error
	AssembleCandidate(minerAddress string) (pow.Candidate, chain.Difficulty, error)
	WatchTip(ctx context.Context, pollInterval time.Duration, onNewTip func(*chain.Block))
}

// Broadcaster is the subset of p2p.Node the orchestrator depends on,
// for announcing locally-originated blocks and transactions.
type Broadcaster interface {
	BroadcastInvBlock(hash [32]byte, height uint64, exclude *p2p.Peer)
	BroadcastInvTx(txid [32]byte, exclude *p2p.Peer)
}

// Orchestrator owns the running mining loop and routes its output, and
// any externally-submitted transactions, to both the chain manager and
// the P2P announce path.
type Orchestrator struct {
	manager ChainManager
	net     Broadcaster
	miner   *pow.Miner
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs an Orchestrator. A nil logger is replaced with
// zap.NewNop(), following the teacher's convention.
func New(manager ChainManager, net Broadcaster, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		manager: manager,
		net:     net,
		miner:   pow.NewMiner(logger),
		logger:  logger,
	}
}

// SubmitTransaction admits tx to the mempool through the chain manager
// and, on success, announces it to peers (§4.10: "On successful
// submit_transaction, broadcast inv_tx").
func (o *Orchestrator) SubmitTransaction(tx *chain.Transaction) error {
	if err := o.manager.SubmitTransaction(tx); err != nil {
		return err
	}
	o.net.BroadcastInvTx(tx.TxID, nil)
	return nil
}

// IsMining reports whether a mining loop is currently running.
func (o *Orchestrator) IsMining() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

// StartMining launches the mining loop for minerAddress in the
// background, returning immediately. It is a no-op if mining is
// already running. The loop runs until ctx is cancelled or StopMining
// is called.
func (o *Orchestrator) StartMining(ctx context.Context, minerAddress string) {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	go func() {
		o.mineLoop(runCtx, minerAddress)
		o.mu.Lock()
		if o.cancel != nil {
			o.cancel()
			o.cancel = nil
		}
		o.mu.Unlock()
	}()
}

// StopMining cancels the running mining loop, if any, and blocks until
// this call has requested cancellation (the loop itself may still be
// unwinding a single in-flight nonce batch).
func (o *Orchestrator) StopMining() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// mineLoop repeatedly assembles a candidate from the current tip and
// mempool, searches for a satisfying nonce, and submits the result,
// re-assembling whenever the search is interrupted by a tip change
// (someone else's block landed first) rather than by shutdown.
func (o *Orchestrator) mineLoop(ctx context.Context, minerAddress string) {
	tipAdvanced := make(chan struct{}, 1)
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go o.manager.WatchTip(watchCtx, tipPollInterval, func(*chain.Block) {
		select {
		case tipAdvanced <- struct{}{}:
		default:
		}
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		// Drain any stale advance signal from the previous round
		// before starting a fresh search against the new tip.
		select {
		case <-tipAdvanced:
		default:
		}

		candidate, difficulty, err := o.manager.AssembleCandidate(minerAddress)
		if err != nil {
			o.logger.Warn("assemble candidate failed", zap.Error(err))
			return
		}
		target := pow.Target{
			HeaderBits:      difficulty.HeaderBits,
			TargetDimension: difficulty.TargetDimension,
			Epsilon:         difficulty.Epsilon,
		}

		mineCtx, cancelMine := context.WithCancel(ctx)
		stopped := make(chan struct{})
		go func() {
			select {
			case <-tipAdvanced:
				cancelMine()
			case <-stopped:
			}
		}()

		block, err := o.miner.Mine(mineCtx, candidate, target)
		close(stopped)
		cancelMine()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Cancelled because the tip moved; retry against the
			// new tip rather than treating this as fatal.
			continue
		}

		if err := o.manager.AddBlock(block); err != nil {
			o.logger.Warn("mined block rejected on apply", zap.Error(err))
			continue
		}
		metrics.BlocksMinedTotal.Inc()
		o.net.BroadcastInvBlock(block.BlockHash(), block.Index, nil)
	}
}
