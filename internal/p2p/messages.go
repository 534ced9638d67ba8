package p2p

import (
	"github.com/fractalpow/node/internal/chain"
)

// MessageType identifies a frame's payload shape (§4.10).
type MessageType string

const (
	MsgHandshake  MessageType = "handshake"
	MsgPing       MessageType = "ping"
	MsgPong       MessageType = "pong"
	MsgInvBlock   MessageType = "inv_block"
	MsgGetBlock   MessageType = "get_block"
	MsgBlock      MessageType = "block"
	MsgInvTx      MessageType = "inv_tx"
	MsgGetTx      MessageType = "get_tx"
	MsgTx         MessageType = "tx"
	MsgGetHeaders MessageType = "get_headers"
	MsgHeaders    MessageType = "headers"
)

// HandshakePayload is exchanged immediately after connect (§4.10).
type HandshakePayload struct {
	Version   int    `json:"version"`
	NetworkID string `json:"network_id"`
	NodeID    string `json:"node_id"`
	Height    uint64 `json:"height"`
}

// PingPayload and PongPayload carry a liveness nonce (§4.10, §5).
type PingPayload struct {
	Nonce uint64 `json:"nonce"`
}

type PongPayload struct {
	Nonce uint64 `json:"nonce"`
}

// InvBlockPayload announces a block the sender holds.
type InvBlockPayload struct {
	Hash   [32]byte `json:"hash"`
	Height uint64   `json:"height"`
}

// GetBlockPayload requests a block by its full hash.
type GetBlockPayload struct {
	Hash [32]byte `json:"hash"`
}

// BlockPayload carries a complete block.
type BlockPayload struct {
	Block WireBlock `json:"block"`
}

// InvTxPayload announces a transaction the sender holds.
type InvTxPayload struct {
	TxID [32]byte `json:"txid"`
}

// GetTxPayload requests a transaction by txid.
type GetTxPayload struct {
	TxID [32]byte `json:"txid"`
}

// TxPayload carries a complete transaction.
type TxPayload struct {
	Transaction WireTransaction `json:"transaction"`
}

// GetHeadersPayload requests a run of headers starting at FromHeight,
// used to drive the Syncing state (§4.10, §5).
type GetHeadersPayload struct {
	FromHeight uint64 `json:"from_height"`
	Count      int    `json:"count"`
}

// HeadersPayload carries a list of block headers with no transaction
// bodies.
type HeadersPayload struct {
	Headers []WireHeader `json:"headers"`
}

// WireHeader is the header-only projection of a block sent during
// header sync: every field needed to verify PoW and link to a parent,
// without the transaction list.
type WireHeader struct {
	Index            uint64   `json:"index"`
	PrevHash         [32]byte `json:"prev_hash"`
	Timestamp        int64    `json:"timestamp"`
	MerkleRoot       [32]byte `json:"merkle_root"`
	Nonce            uint64   `json:"nonce"`
	Difficulty       int      `json:"difficulty"`
	FractalCRe       float64  `json:"fractal_c_re"`
	FractalCIm       float64  `json:"fractal_c_im"`
	FractalDimension float64  `json:"fractal_dimension"`
	FractalSeed      [32]byte `json:"fractal_seed"`
	Hash             [32]byte `json:"hash"`
}

func headerOf(b *chain.Block) WireHeader {
	return WireHeader{
		Index:            b.Index,
		PrevHash:         b.PrevHash,
		Timestamp:        b.Timestamp,
		MerkleRoot:       b.MerkleRoot,
		Nonce:            b.Nonce,
		Difficulty:       b.Difficulty,
		FractalCRe:       b.FractalCRe,
		FractalCIm:       b.FractalCIm,
		FractalDimension: b.FractalDimension,
		FractalSeed:      b.FractalSeed,
		Hash:             b.BlockHash(),
	}
}

// WireTransaction is the over-the-wire projection of chain.Transaction.
type WireTransaction struct {
	FromAddress string   `json:"from_address"`
	ToAddress   string   `json:"to_address"`
	Amount      int64    `json:"amount"`
	Fee         int64    `json:"fee"`
	Timestamp   int64    `json:"timestamp"`
	Signature   []byte   `json:"signature"`
	PublicKey   []byte   `json:"public_key"`
	Nonce       uint64   `json:"nonce"`
	TxID        [32]byte `json:"txid"`
}

func wireTransaction(tx *chain.Transaction) WireTransaction {
	return WireTransaction{
		FromAddress: tx.FromAddress,
		ToAddress:   tx.ToAddress,
		Amount:      int64(tx.Amount),
		Fee:         int64(tx.Fee),
		Timestamp:   tx.Timestamp,
		Signature:   tx.Signature,
		PublicKey:   tx.PublicKey,
		Nonce:       tx.Nonce,
		TxID:        tx.TxID,
	}
}

func (w WireTransaction) toTransaction() *chain.Transaction {
	return &chain.Transaction{
		FromAddress: w.FromAddress,
		ToAddress:   w.ToAddress,
		Amount:      chain.Amount(w.Amount),
		Fee:         chain.Amount(w.Fee),
		Timestamp:   w.Timestamp,
		Signature:   w.Signature,
		PublicKey:   w.PublicKey,
		Nonce:       w.Nonce,
		TxID:        w.TxID,
	}
}

// WireBlock is the over-the-wire projection of chain.Block.
type WireBlock struct {
	WireHeader
	Transactions []WireTransaction `json:"transactions"`
}

func wireBlock(b *chain.Block) WireBlock {
	txs := make([]WireTransaction, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = wireTransaction(tx)
	}
	return WireBlock{WireHeader: headerOf(b), Transactions: txs}
}

func (w WireBlock) toBlock() *chain.Block {
	txs := make([]*chain.Transaction, len(w.Transactions))
	for i, tx := range w.Transactions {
		txs[i] = tx.toTransaction()
	}
	return &chain.Block{
		Index:            w.Index,
		PrevHash:         w.PrevHash,
		Timestamp:        w.Timestamp,
		Transactions:     txs,
		MerkleRoot:       w.MerkleRoot,
		Nonce:            w.Nonce,
		Difficulty:       w.Difficulty,
		FractalCRe:       w.FractalCRe,
		FractalCIm:       w.FractalCIm,
		FractalDimension: w.FractalDimension,
		FractalSeed:      w.FractalSeed,
	}
}
