package p2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fractalpow/node/internal/chain"
)

// State is a peer connection's position in the sync state machine
// (§4.10): Connecting -> Handshaking -> Syncing -> Live -> Closed.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateSyncing
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	handshakeTimeout    = 10 * time.Second
	readIdleTimeout     = 60 * time.Second
	blockRequestTimeout = 30 * time.Second
	txRequestTimeout    = 30 * time.Second
	syncStallTimeout    = 120 * time.Second

	// rateLimitBurst/rateLimitPerSecond implement the §4.10 token bucket:
	// 100 messages per 10 seconds.
	rateLimitPerSecond = 10.0
	rateLimitBurst     = 100

	headersBatchSize = 2000
)

// ErrRateLimited is returned by a peer's read loop when the sender
// exceeded the token bucket; the caller (Node) is responsible for the
// blacklist cool-down.
var ErrRateLimited = fmt.Errorf("peer exceeded rate limit")

// Handlers are the node-level callbacks a Peer invokes for messages it
// cannot answer on its own (§4.10).
type Handlers struct {
	LocalHeight  func() uint64
	GetBlock     func(hash [32]byte) (*chain.Block, bool)
	GetTx        func(txid [32]byte) (*chain.Transaction, bool)
	GetHeaders   func(fromHeight uint64, count int) []WireHeader
	OnBlock      func(peer *Peer, b *chain.Block)
	OnTx         func(peer *Peer, tx *chain.Transaction)
	OnInvBlock   func(peer *Peer, hash [32]byte, height uint64)
	OnInvTx      func(peer *Peer, txid [32]byte)
}

// Peer manages one connection's framing, state, and rate limiting.
type Peer struct {
	conn       net.Conn
	codec      *Codec
	logger     *zap.Logger
	handlers   *Handlers
	networkID  string
	selfID     string
	selfHeight func() uint64

	writeMu sync.Mutex

	mu           sync.Mutex
	state        State
	remoteNodeID string
	remoteHeight uint64
	lastProgress time.Time

	limiter *rate.Limiter

	pendingMu     sync.Mutex
	pendingBlocks map[[32]byte]chan *chain.Block
	pendingTxs    map[[32]byte]chan *chain.Transaction
	pendingHeaders chan []WireHeader

	closed chan struct{}
	once   sync.Once
}

// NewPeer wraps an already-accepted or already-dialed connection.
func NewPeer(conn net.Conn, networkID, selfID string, selfHeight func() uint64, handlers *Handlers, logger *zap.Logger) *Peer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Peer{
		conn:          conn,
		codec:         NewCodec(conn),
		logger:        logger,
		handlers:      handlers,
		networkID:     networkID,
		selfID:        selfID,
		selfHeight:    selfHeight,
		state:         StateConnecting,
		limiter:       rate.NewLimiter(rate.Limit(rateLimitPerSecond), rateLimitBurst),
		pendingBlocks: make(map[[32]byte]chan *chain.Block),
		pendingTxs:    make(map[[32]byte]chan *chain.Transaction),
		closed:        make(chan struct{}),
	}
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns the peer's current sync state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RemoteNodeID returns the node id the peer presented at handshake.
func (p *Peer) RemoteNodeID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteNodeID
}

// RemoteHeight returns the peer's most recently announced height.
func (p *Peer) RemoteHeight() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteHeight
}

func (p *Peer) touchProgress() {
	p.mu.Lock()
	p.lastProgress = time.Now()
	p.mu.Unlock()
}

func (p *Peer) stalled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastProgress) > syncStallTimeout
}

// RemoteAddr exposes the underlying connection's remote address, used
// by Node for blacklisting by IP.
func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

// Close closes the underlying connection exactly once.
func (p *Peer) Close() error {
	var err error
	p.once.Do(func() {
		p.setState(StateClosed)
		close(p.closed)
		err = p.codec.Close()
	})
	return err
}

func (p *Peer) send(msgType MessageType, payload interface{}) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.codec.WriteFrame(msgType, payload)
}

// Handshake performs the initial version/network/node-id/height
// exchange and blocks until both sides have completed it or the
// handshake timeout elapses (§4.10, §5).
func (p *Peer) Handshake(outbound bool) error {
	p.setState(StateHandshaking)

	send := func() error {
		return p.send(MsgHandshake, HandshakePayload{
			Version:   ProtocolVersion,
			NetworkID: p.networkID,
			NodeID:    p.selfID,
			Height:    p.selfHeight(),
		})
	}
	recv := func() (HandshakePayload, error) {
		frame, err := p.codec.ReadFrame(handshakeTimeout)
		if err != nil {
			return HandshakePayload{}, err
		}
		if frame.Type != MsgHandshake {
			return HandshakePayload{}, fmt.Errorf("expected handshake, got %s", frame.Type)
		}
		var hp HandshakePayload
		if err := json.Unmarshal(frame.Payload, &hp); err != nil {
			return HandshakePayload{}, fmt.Errorf("decode handshake: %w", err)
		}
		return hp, nil
	}

	var hp HandshakePayload
	var err error
	if outbound {
		if err = send(); err != nil {
			return err
		}
		hp, err = recv()
	} else {
		hp, err = recv()
		if err == nil {
			err = send()
		}
	}
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if hp.NetworkID != p.networkID {
		return fmt.Errorf("handshake: network id mismatch %q != %q", hp.NetworkID, p.networkID)
	}

	p.mu.Lock()
	p.remoteNodeID = hp.NodeID
	p.remoteHeight = hp.Height
	p.lastProgress = time.Now()
	p.mu.Unlock()

	p.setState(StateSyncing)
	return nil
}

// RequestBlock sends get_block and waits up to blockRequestTimeout for
// the matching block frame (§4.10, §5).
func (p *Peer) RequestBlock(hash [32]byte) (*chain.Block, error) {
	ch := make(chan *chain.Block, 1)
	p.pendingMu.Lock()
	p.pendingBlocks[hash] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pendingBlocks, hash)
		p.pendingMu.Unlock()
	}()

	if err := p.send(MsgGetBlock, GetBlockPayload{Hash: hash}); err != nil {
		return nil, err
	}
	select {
	case b := <-ch:
		return b, nil
	case <-time.After(blockRequestTimeout):
		return nil, fmt.Errorf("get_block timed out for %x", hash)
	case <-p.closed:
		return nil, fmt.Errorf("peer closed while awaiting block %x", hash)
	}
}

// RequestTx sends get_tx and waits up to txRequestTimeout for the
// matching tx frame.
func (p *Peer) RequestTx(txid [32]byte) (*chain.Transaction, error) {
	ch := make(chan *chain.Transaction, 1)
	p.pendingMu.Lock()
	p.pendingTxs[txid] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pendingTxs, txid)
		p.pendingMu.Unlock()
	}()

	if err := p.send(MsgGetTx, GetTxPayload{TxID: txid}); err != nil {
		return nil, err
	}
	select {
	case tx := <-ch:
		return tx, nil
	case <-time.After(txRequestTimeout):
		return nil, fmt.Errorf("get_tx timed out for %x", txid)
	case <-p.closed:
		return nil, fmt.Errorf("peer closed while awaiting tx %x", txid)
	}
}

// RequestHeaders sends get_headers and waits for the matching headers
// frame, used by the Syncing state.
func (p *Peer) RequestHeaders(fromHeight uint64, count int) ([]WireHeader, error) {
	ch := make(chan []WireHeader, 1)
	p.pendingMu.Lock()
	p.pendingHeaders = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		p.pendingHeaders = nil
		p.pendingMu.Unlock()
	}()

	if err := p.send(MsgGetHeaders, GetHeadersPayload{FromHeight: fromHeight, Count: count}); err != nil {
		return nil, err
	}
	select {
	case headers := <-ch:
		return headers, nil
	case <-time.After(blockRequestTimeout):
		return nil, fmt.Errorf("get_headers timed out from height %d", fromHeight)
	case <-p.closed:
		return nil, fmt.Errorf("peer closed while awaiting headers")
	}
}

// AnnounceBlock sends inv_block, used on successful add_block (§4.10).
func (p *Peer) AnnounceBlock(hash [32]byte, height uint64) error {
	return p.send(MsgInvBlock, InvBlockPayload{Hash: hash, Height: height})
}

// AnnounceTx sends inv_tx, used on successful submit_transaction.
func (p *Peer) AnnounceTx(txid [32]byte) error {
	return p.send(MsgInvTx, InvTxPayload{TxID: txid})
}

// ReadLoop processes frames until the connection closes, a fatal
// protocol error occurs, or the peer is rate limited (§4.10, §5).
// A first read-idle timeout sends a ping and keeps reading; a second
// consecutive timeout (no pong, no other traffic) disconnects the peer,
// mirroring a missed-heartbeat liveness check.
func (p *Peer) ReadLoop() error {
	idleMisses := 0
	for {
		frame, err := p.codec.ReadFrame(readIdleTimeout)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				idleMisses++
				if idleMisses >= 2 {
					return fmt.Errorf("peer idle past two read timeouts")
				}
				if werr := p.send(MsgPing, PingPayload{Nonce: uint64(time.Now().UnixNano())}); werr != nil {
					return werr
				}
				continue
			}
			return err
		}
		idleMisses = 0

		if !p.limiter.Allow() {
			return ErrRateLimited
		}

		if err := p.handleFrame(frame); err != nil {
			p.logger.Warn("frame handling error", zap.String("type", string(frame.Type)), zap.Error(err))
		}
	}
}

func (p *Peer) handleFrame(frame *Frame) error {
	switch frame.Type {
	case MsgHandshake:
		return nil // already completed; ignore duplicates

	case MsgPing:
		var ping PingPayload
		if err := json.Unmarshal(frame.Payload, &ping); err != nil {
			return err
		}
		return p.send(MsgPong, PongPayload{Nonce: ping.Nonce})

	case MsgPong:
		return nil

	case MsgInvBlock:
		var inv InvBlockPayload
		if err := json.Unmarshal(frame.Payload, &inv); err != nil {
			return err
		}
		p.mu.Lock()
		if inv.Height > p.remoteHeight {
			p.remoteHeight = inv.Height
		}
		p.mu.Unlock()
		if p.handlers.OnInvBlock != nil {
			p.handlers.OnInvBlock(p, inv.Hash, inv.Height)
		}
		return nil

	case MsgGetBlock:
		var req GetBlockPayload
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return err
		}
		if p.handlers.GetBlock == nil {
			return nil
		}
		b, ok := p.handlers.GetBlock(req.Hash)
		if !ok {
			return nil
		}
		return p.send(MsgBlock, BlockPayload{Block: wireBlock(b)})

	case MsgBlock:
		var bp BlockPayload
		if err := json.Unmarshal(frame.Payload, &bp); err != nil {
			return err
		}
		b := bp.Block.toBlock()
		hash := b.BlockHash()
		p.pendingMu.Lock()
		ch, waiting := p.pendingBlocks[hash]
		p.pendingMu.Unlock()
		if waiting {
			select {
			case ch <- b:
			default:
			}
			p.touchProgress()
			return nil
		}
		if p.handlers.OnBlock != nil {
			p.handlers.OnBlock(p, b)
		}
		return nil

	case MsgInvTx:
		var inv InvTxPayload
		if err := json.Unmarshal(frame.Payload, &inv); err != nil {
			return err
		}
		if p.handlers.OnInvTx != nil {
			p.handlers.OnInvTx(p, inv.TxID)
		}
		return nil

	case MsgGetTx:
		var req GetTxPayload
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return err
		}
		if p.handlers.GetTx == nil {
			return nil
		}
		tx, ok := p.handlers.GetTx(req.TxID)
		if !ok {
			return nil
		}
		return p.send(MsgTx, TxPayload{Transaction: wireTransaction(tx)})

	case MsgTx:
		var tp TxPayload
		if err := json.Unmarshal(frame.Payload, &tp); err != nil {
			return err
		}
		tx := tp.Transaction.toTransaction()
		p.pendingMu.Lock()
		ch, waiting := p.pendingTxs[tx.TxID]
		p.pendingMu.Unlock()
		if waiting {
			select {
			case ch <- tx:
			default:
			}
			return nil
		}
		if p.handlers.OnTx != nil {
			p.handlers.OnTx(p, tx)
		}
		return nil

	case MsgGetHeaders:
		var req GetHeadersPayload
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return err
		}
		if p.handlers.GetHeaders == nil {
			return nil
		}
		count := req.Count
		if count <= 0 || count > headersBatchSize {
			count = headersBatchSize
		}
		headers := p.handlers.GetHeaders(req.FromHeight, count)
		return p.send(MsgHeaders, HeadersPayload{Headers: headers})

	case MsgHeaders:
		var hp HeadersPayload
		if err := json.Unmarshal(frame.Payload, &hp); err != nil {
			return err
		}
		p.pendingMu.Lock()
		ch := p.pendingHeaders
		p.pendingMu.Unlock()
		if ch != nil {
			select {
			case ch <- hp.Headers:
			default:
			}
			p.touchProgress()
		}
		return nil

	default:
		return fmt.Errorf("unknown message type %q", frame.Type)
	}
}
