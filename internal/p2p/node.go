// Package p2p implements the node's wire protocol, per-peer state
// machine, and sync logic (§4.10, §5, §6). It is a from-scratch
// rewrite of the teacher's libp2p-based internal/p2p package: the spec
// requires an explicit, length-prefixed JSON framing and a hand-rolled
// per-peer sync state machine that a libp2p host/pubsub/DHT stack does
// not expose directly, so the transport is instead grounded on the
// teacher's lower-level internal/stratum/protocol.go Codec (net.Conn +
// bufio + deadlines), generalized from newline-delimited JSON to
// 4-byte-big-endian length-prefixed JSON frames (§6).
package p2p

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fractalpow/node/internal/chain"
	"github.com/fractalpow/node/internal/mempool"
	"github.com/fractalpow/node/internal/metrics"
)

// blacklistCooldown is how long a rate-limit violator is refused new
// connections (§4.10: "disconnected and blacklisted for a cool-down
// window").
const blacklistCooldown = 10 * time.Minute

// ChainManager is the subset of chainmgr.Manager the node depends on;
// declared here so p2p does not import chainmgr (chainmgr already
// imports store/mempool/pow/validate, and a p2p->chainmgr dependency
// would be the wrong direction — chainmgr should own networking, not
// the other way around).
type ChainManager interface {
	Height() uint64
	GetBlock(index uint64) (*chain.Block, bool)
	GetBlockByHash(hash [32]byte) (*chain.Block, bool)
	AddBlock(b *chain.Block) error
	SubmitTransaction(tx *chain.Transaction) error
}

// Node owns the listener, the live peer set, and the blacklist. All
// mutations to peers/blacklist happen under mu; the chain/mempool
// state itself is never touched directly (every chain mutation goes
// through ChainManager's own single-writer queue).
type Node struct {
	listener  net.Listener
	networkID string
	identity  Identity
	manager   ChainManager
	pool      *mempool.Pool
	logger    *zap.Logger

	mu        sync.Mutex
	peers     map[string]*Peer
	blacklist map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNode binds listenAddr and constructs a Node. Call Run to start
// accepting inbound connections.
func NewNode(listenAddr, networkID string, identity Identity, manager ChainManager, pool *mempool.Pool, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		listener:  ln,
		networkID: networkID,
		identity:  identity,
		manager:   manager,
		pool:      pool,
		logger:    logger,
		peers:     make(map[string]*Peer),
		blacklist: make(map[string]time.Time),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Addr returns the listener's bound address.
func (n *Node) Addr() net.Addr {
	return n.listener.Addr()
}

// Run accepts inbound connections until Close is called.
func (n *Node) Run() error {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		if n.isBlacklisted(hostOf(conn.RemoteAddr())) {
			conn.Close()
			continue
		}
		go n.serve(conn, false)
	}
}

// Dial connects outbound to addr and serves the resulting connection.
func (n *Node) Dial(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, handshakeTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if n.isBlacklisted(hostOf(conn.RemoteAddr())) {
		conn.Close()
		return fmt.Errorf("dial %s: peer is blacklisted", addr)
	}
	go n.serve(conn, true)
	return nil
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (n *Node) isBlacklisted(host string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	until, ok := n.blacklist[host]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(n.blacklist, host)
		return false
	}
	return true
}

func (n *Node) blacklistHost(host string) {
	n.mu.Lock()
	n.blacklist[host] = time.Now().Add(blacklistCooldown)
	n.mu.Unlock()
}

func (n *Node) serve(conn net.Conn, outbound bool) {
	host := hostOf(conn.RemoteAddr())
	peer := NewPeer(conn, n.networkID, n.identity.NodeID(), n.manager.Height, n.handlersFor(), n.logger)

	defer func() {
		peer.Close()
		n.mu.Lock()
		delete(n.peers, conn.RemoteAddr().String())
		count := len(n.peers)
		n.mu.Unlock()
		metrics.PeersConnected.Set(float64(count))
	}()

	if err := peer.Handshake(outbound); err != nil {
		n.logger.Debug("handshake failed", zap.String("peer", host), zap.Error(err))
		return
	}

	n.mu.Lock()
	n.peers[conn.RemoteAddr().String()] = peer
	count := len(n.peers)
	n.mu.Unlock()
	metrics.PeersConnected.Set(float64(count))
	n.logger.Info("peer connected",
		zap.String("peer", host),
		zap.String("node_id", peer.RemoteNodeID()),
		zap.Uint64("height", peer.RemoteHeight()),
	)

	// ReadLoop must already be draining frames before RunSync issues its
	// first get_headers/get_block request: those requests block on
	// pendingHeaders/pendingBlocks channels that only ever get fulfilled
	// from inside handleFrame, which only runs inside ReadLoop.
	readErrCh := make(chan error, 1)
	go func() { readErrCh <- peer.ReadLoop() }()

	if err := RunSync(n.ctx, peer, n.manager.Height, n.manager.AddBlock, n.logger); err != nil {
		n.logger.Warn("sync failed", zap.String("peer", host), zap.Error(err))
		return
	}

	err := <-readErrCh
	if err == ErrRateLimited {
		n.logger.Warn("peer rate limited, blacklisting", zap.String("peer", host))
		n.blacklistHost(host)
		return
	}
	if err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		n.logger.Debug("peer read loop ended", zap.String("peer", host), zap.Error(err))
	}
}

// handlersFor builds the Handlers a Peer uses to answer requests and
// react to announcements, wired to the chain manager and mempool.
func (n *Node) handlersFor() *Handlers {
	return &Handlers{
		LocalHeight: n.manager.Height,
		GetBlock: func(hash [32]byte) (*chain.Block, bool) {
			return n.manager.GetBlockByHash(hash)
		},
		GetTx: func(txid [32]byte) (*chain.Transaction, bool) {
			tx := n.pool.Get(txid)
			return tx, tx != nil
		},
		GetHeaders: func(fromHeight uint64, count int) []WireHeader {
			headers := make([]WireHeader, 0, count)
			for i := 0; i < count; i++ {
				b, ok := n.manager.GetBlock(fromHeight + uint64(i))
				if !ok {
					break
				}
				headers = append(headers, headerOf(b))
			}
			return headers
		},
		OnBlock: func(peer *Peer, b *chain.Block) {
			n.logger.Debug("unsolicited block ignored", zap.Uint64("index", b.Index))
		},
		OnTx: func(peer *Peer, tx *chain.Transaction) {
			n.logger.Debug("unsolicited tx ignored", zap.Binary("txid", tx.TxID[:]))
		},
		OnInvBlock: func(peer *Peer, hash [32]byte, height uint64) {
			if _, ok := n.manager.GetBlockByHash(hash); ok {
				return
			}
			go func() {
				b, err := peer.RequestBlock(hash)
				if err != nil {
					n.logger.Debug("inv_block fetch failed", zap.Error(err))
					return
				}
				if err := n.manager.AddBlock(b); err != nil {
					n.logger.Debug("inv_block apply failed", zap.Error(err))
					return
				}
				n.BroadcastInvBlock(b.BlockHash(), b.Index, peer)
			}()
		},
		OnInvTx: func(peer *Peer, txid [32]byte) {
			if n.pool.Get(txid) != nil {
				return
			}
			go func() {
				tx, err := peer.RequestTx(txid)
				if err != nil {
					n.logger.Debug("inv_tx fetch failed", zap.Error(err))
					return
				}
				if err := n.manager.SubmitTransaction(tx); err != nil {
					n.logger.Debug("inv_tx submit failed", zap.Error(err))
					return
				}
				n.BroadcastInvTx(tx.TxID, peer)
			}()
		},
	}
}

// livePeers returns the current set of peers in the Live state,
// optionally excluding one (the peer a message was just received
// from).
func (n *Node) livePeers(exclude *Peer) []*Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	live := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		if p == exclude {
			continue
		}
		if p.State() == StateLive {
			live = append(live, p)
		}
	}
	return live
}

// BroadcastInvBlock announces a newly applied block to every Live peer
// except exclude (§4.10: "On successful add_block, broadcast inv_block
// to all Live peers").
func (n *Node) BroadcastInvBlock(hash [32]byte, height uint64, exclude *Peer) {
	for _, p := range n.livePeers(exclude) {
		if err := p.AnnounceBlock(hash, height); err != nil {
			n.logger.Debug("broadcast inv_block failed", zap.Error(err))
		}
	}
}

// BroadcastInvTx announces a newly admitted transaction to every Live
// peer except exclude (§4.10: "On successful submit_transaction,
// broadcast inv_tx").
func (n *Node) BroadcastInvTx(txid [32]byte, exclude *Peer) {
	for _, p := range n.livePeers(exclude) {
		if err := p.AnnounceTx(txid); err != nil {
			n.logger.Debug("broadcast inv_tx failed", zap.Error(err))
		}
	}
}

// PeerCount returns the number of currently tracked peer connections
// (any state).
func (n *Node) PeerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

// HasTx reports whether txid is currently held in this node's mempool,
// including transactions admitted via inv_tx relay from a peer rather
// than submitted locally.
func (n *Node) HasTx(txid [32]byte) bool {
	return n.pool.Get(txid) != nil
}

// Close stops accepting new connections and closes all live peers.
func (n *Node) Close() error {
	n.cancel()
	err := n.listener.Close()
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
	return err
}
