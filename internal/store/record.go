package store

import (
	"github.com/fractalpow/node/internal/chain"
)

// blockRecord is the CBOR-serializable on-disk form of a block, field
// order pinned with keyasint tags in the teacher's p2p/messages.go
// style so storage records stay stable across struct reordering.
type blockRecord struct {
	Index            uint64     `cbor:"1,keyasint"`
	PrevHash         [32]byte   `cbor:"2,keyasint"`
	Timestamp        int64      `cbor:"3,keyasint"`
	TxIDs            [][32]byte `cbor:"4,keyasint"`
	MerkleRoot       [32]byte   `cbor:"5,keyasint"`
	Nonce            uint64     `cbor:"6,keyasint"`
	Difficulty       int        `cbor:"7,keyasint"`
	FractalCRe       float64    `cbor:"8,keyasint"`
	FractalCIm       float64    `cbor:"9,keyasint"`
	FractalDimension float64    `cbor:"10,keyasint"`
	FractalSeed      [32]byte   `cbor:"11,keyasint"`
}

func toBlockRecord(b *chain.Block) blockRecord {
	txids := make([][32]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		txids[i] = tx.TxID
	}
	return blockRecord{
		Index:            b.Index,
		PrevHash:         b.PrevHash,
		Timestamp:        b.Timestamp,
		TxIDs:            txids,
		MerkleRoot:       b.MerkleRoot,
		Nonce:            b.Nonce,
		Difficulty:       b.Difficulty,
		FractalCRe:       b.FractalCRe,
		FractalCIm:       b.FractalCIm,
		FractalDimension: b.FractalDimension,
		FractalSeed:      b.FractalSeed,
	}
}

// toBlock reassembles a chain.Block from its record and the separately
// stored transactions, in record order.
func (r blockRecord) toBlock(txs []*chain.Transaction) *chain.Block {
	return &chain.Block{
		Index:            r.Index,
		PrevHash:         r.PrevHash,
		Timestamp:        r.Timestamp,
		Transactions:     txs,
		MerkleRoot:       r.MerkleRoot,
		Nonce:            r.Nonce,
		Difficulty:       r.Difficulty,
		FractalCRe:       r.FractalCRe,
		FractalCIm:       r.FractalCIm,
		FractalDimension: r.FractalDimension,
		FractalSeed:      r.FractalSeed,
	}
}

// txRecord is the CBOR-serializable on-disk form of a transaction plus
// its position within its containing block.
type txRecord struct {
	FromAddress string   `cbor:"1,keyasint"`
	ToAddress   string   `cbor:"2,keyasint"`
	Amount      int64    `cbor:"3,keyasint"`
	Fee         int64    `cbor:"4,keyasint"`
	Timestamp   int64    `cbor:"5,keyasint"`
	Signature   []byte   `cbor:"6,keyasint"`
	PublicKey   []byte   `cbor:"7,keyasint"`
	Nonce       uint64   `cbor:"8,keyasint"`
	TxID        [32]byte `cbor:"9,keyasint"`
	BlockIndex  uint64   `cbor:"10,keyasint"`
	Position    int      `cbor:"11,keyasint"`
}

func toTxRecord(tx *chain.Transaction, blockIndex uint64, position int) txRecord {
	return txRecord{
		FromAddress: tx.FromAddress,
		ToAddress:   tx.ToAddress,
		Amount:      int64(tx.Amount),
		Fee:         int64(tx.Fee),
		Timestamp:   tx.Timestamp,
		Signature:   tx.Signature,
		PublicKey:   tx.PublicKey,
		Nonce:       tx.Nonce,
		TxID:        tx.TxID,
		BlockIndex:  blockIndex,
		Position:    position,
	}
}

func (r txRecord) toTransaction() *chain.Transaction {
	return &chain.Transaction{
		FromAddress: r.FromAddress,
		ToAddress:   r.ToAddress,
		Amount:      chain.Amount(r.Amount),
		Fee:         chain.Amount(r.Fee),
		Timestamp:   r.Timestamp,
		Signature:   r.Signature,
		PublicKey:   r.PublicKey,
		Nonce:       r.Nonce,
		TxID:        r.TxID,
	}
}
