package p2p

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fractalpow/node/internal/chain"
)

// syncPollInterval paces repeated get_headers requests while Syncing.
const syncPollInterval = 2 * time.Second

// RunSync drives peer through the Syncing state (§4.10): repeatedly
// requests get_headers from the local tip, fetches any missing blocks
// via get_block, validates and applies them, and transitions the peer
// to Live once its announced height matches local height. Grounded on
// the teacher's locator-based Syncer request/response shape, adapted
// from a single batched stream request to the spec's get_headers/
// get_block message pair carried over the persistent peer connection
// rather than a dedicated libp2p stream protocol.
//
// addBlock validates and applies a fetched block to the local chain
// (typically chainmgr.Manager.AddBlock). Any error it returns, including
// the one for a block whose index the chain already holds, ends the sync
// with that error.
func RunSync(ctx context.Context, peer *Peer, localHeight func() uint64, addBlock func(*chain.Block) error, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	peer.setState(StateSyncing)
	peer.touchProgress()

	ticker := time.NewTicker(syncPollInterval)
	defer ticker.Stop()

	for {
		if peer.RemoteHeight() <= localHeight() {
			peer.setState(StateLive)
			return nil
		}
		if peer.stalled() {
			return fmt.Errorf("sync stalled past %s", syncStallTimeout)
		}

		headers, err := peer.RequestHeaders(localHeight()+1, headersBatchSize)
		if err != nil {
			return fmt.Errorf("request headers: %w", err)
		}
		if len(headers) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				continue
			}
		}

		for _, h := range headers {
			b, err := peer.RequestBlock(h.Hash)
			if err != nil {
				return fmt.Errorf("request block %x: %w", h.Hash, err)
			}
			if err := addBlock(b); err != nil {
				return fmt.Errorf("apply synced block %d: %w", b.Index, err)
			}
			peer.touchProgress()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
