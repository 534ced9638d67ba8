// Package store persists blocks, transactions, balances, and chain
// metadata in a single embedded bbolt database (§4.9's "persistent
// storage layout"), following the teacher's bbolt dependency and the
// NewBoltStore(path, logger)/Add/Get/Has/Count/Close contract pinned by
// internal/sharechain/boltstore_test.go, generalized from a single
// share bucket to the block/transaction/balance/meta buckets a full
// ledger needs. Large raw blobs are zstd-compressed above a size
// threshold using the same magic-byte forward-compat probe as the
// teacher's internal/p2p/compress.go.
package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/fractalpow/node/internal/chain"
)

var (
	blocksBucket       = []byte("blocks")
	blockHashIndex     = []byte("block_hashes")
	transactionsBucket = []byte("transactions")
	balancesBucket     = []byte("balances")
	metaBucket         = []byte("meta")
)

// Meta keys stored in metaBucket.
const (
	MetaHeight          = "height"
	MetaHeaderBits      = "header_bits"
	MetaEpsilon         = "epsilon"
	MetaTargetDimension = "target_dimension"
)

// compressThreshold is the raw-blob size above which a stored value is
// zstd-compressed (§4.9 doesn't mandate compression; this follows the
// teacher's coinbase-compression practice for any large variable-length
// blob).
const compressThreshold = 256

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
)

func maybeCompress(data []byte) []byte {
	if len(data) < compressThreshold {
		return data
	}
	return zstdEncoder.EncodeAll(data, nil)
}

func maybeDecompress(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0x28 || data[1] != 0xB5 || data[2] != 0x2F || data[3] != 0xFD {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}

// Store is the node's single persistent backing store. It is owned
// exclusively by the chain manager's single-writer task (§4.9,
// "Shared resources").
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open creates or opens a bbolt database at path, creating the five
// top-level buckets if absent.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{blocksBucket, blockHashIndex, transactionsBucket, balancesBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func indexKey(index uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, index)
	return b
}

// ApplyBlock atomically inserts the block row, each transaction row,
// and the balance deltas, then advances the height meta entry (§4.9's
// "atomic block apply": "on any failure the store is unchanged").
func (s *Store) ApplyBlock(b *chain.Block, deltas map[string]chain.Amount) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		blocks := tx.Bucket(blocksBucket)
		hashes := tx.Bucket(blockHashIndex)
		txs := tx.Bucket(transactionsBucket)
		balances := tx.Bucket(balancesBucket)
		meta := tx.Bucket(metaBucket)

		key := indexKey(b.Index)
		if blocks.Get(key) != nil {
			return fmt.Errorf("block %d already stored", b.Index)
		}

		rec := toBlockRecord(b)
		encoded, err := cbor.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal block: %w", err)
		}
		if err := blocks.Put(key, maybeCompress(encoded)); err != nil {
			return err
		}

		blockHash := b.BlockHash()
		if err := hashes.Put(blockHash[:], key); err != nil {
			return err
		}

		for i, t := range b.Transactions {
			txRec := toTxRecord(t, b.Index, i)
			txEncoded, err := cbor.Marshal(txRec)
			if err != nil {
				return fmt.Errorf("marshal tx: %w", err)
			}
			if err := txs.Put(t.TxID[:], maybeCompress(txEncoded)); err != nil {
				return err
			}
		}

		for addr, delta := range deltas {
			current := readBalance(balances, addr)
			if err := writeBalance(balances, addr, current+delta); err != nil {
				return err
			}
		}

		return writeUint64(meta, MetaHeight, b.Index)
	})
}

// GetBlock returns the block at index, reassembled from its stored
// transactions, or false if absent.
func (s *Store) GetBlock(index uint64) (*chain.Block, bool) {
	var block *chain.Block
	_ = s.db.View(func(tx *bbolt.Tx) error {
		blocks := tx.Bucket(blocksBucket)
		txs := tx.Bucket(transactionsBucket)

		raw := blocks.Get(indexKey(index))
		if raw == nil {
			return nil
		}
		decoded, err := maybeDecompress(raw)
		if err != nil {
			return err
		}
		var rec blockRecord
		if err := cbor.Unmarshal(decoded, &rec); err != nil {
			return err
		}

		transactions := make([]*chain.Transaction, len(rec.TxIDs))
		for i, txid := range rec.TxIDs {
			txRaw := txs.Get(txid[:])
			if txRaw == nil {
				return fmt.Errorf("transaction %x missing for block %d", txid, index)
			}
			txDecoded, err := maybeDecompress(txRaw)
			if err != nil {
				return err
			}
			var txRec txRecord
			if err := cbor.Unmarshal(txDecoded, &txRec); err != nil {
				return err
			}
			transactions[i] = txRec.toTransaction()
		}

		block = rec.toBlock(transactions)
		return nil
	})
	return block, block != nil
}

// GetBlockByHash resolves a block by its full block hash.
func (s *Store) GetBlockByHash(hash [32]byte) (*chain.Block, bool) {
	var index uint64
	var found bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(blockHashIndex).Get(hash[:])
		if key == nil {
			return nil
		}
		index = binary.BigEndian.Uint64(key)
		found = true
		return nil
	})
	if !found {
		return nil, false
	}
	return s.GetBlock(index)
}

// Has reports whether a block at index is stored.
func (s *Store) Has(index uint64) bool {
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(blocksBucket).Get(indexKey(index)) != nil
		return nil
	})
	return found
}

// Height returns the highest stored block index, or 0 with found=false
// if the store is empty.
func (s *Store) Height() (uint64, bool) {
	var height uint64
	var ok bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get([]byte(MetaHeight))
		if v == nil {
			return nil
		}
		height = binary.BigEndian.Uint64(v)
		ok = true
		return nil
	})
	return height, ok
}

// Count returns the number of stored blocks.
func (s *Store) Count() int {
	n := 0
	_ = s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(blocksBucket).Stats().KeyN
		return nil
	})
	return n
}

// GetBalance returns the current balance for an address, 0 if unknown.
func (s *Store) GetBalance(address string) chain.Amount {
	var amount chain.Amount
	_ = s.db.View(func(tx *bbolt.Tx) error {
		amount = readBalance(tx.Bucket(balancesBucket), address)
		return nil
	})
	return amount
}

// GetTransaction returns a transaction and the index of the block that
// contains it.
func (s *Store) GetTransaction(txid [32]byte) (*chain.Transaction, uint64, bool) {
	var record *txRecord
	_ = s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(transactionsBucket).Get(txid[:])
		if raw == nil {
			return nil
		}
		decoded, err := maybeDecompress(raw)
		if err != nil {
			return err
		}
		var rec txRecord
		if err := cbor.Unmarshal(decoded, &rec); err != nil {
			return err
		}
		record = &rec
		return nil
	})
	if record == nil {
		return nil, 0, false
	}
	return record.toTransaction(), record.BlockIndex, true
}

// SetDifficulty persists the chain-wide difficulty parameters.
func (s *Store) SetDifficulty(d chain.Difficulty) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if err := writeUint64(meta, MetaHeaderBits, uint64(d.HeaderBits)); err != nil {
			return err
		}
		if err := writeFloat64(meta, MetaEpsilon, d.Epsilon); err != nil {
			return err
		}
		return writeFloat64(meta, MetaTargetDimension, d.TargetDimension)
	})
}

// GetDifficulty reads the persisted difficulty parameters, or false if
// none have ever been set.
func (s *Store) GetDifficulty() (chain.Difficulty, bool) {
	var d chain.Difficulty
	ok := true
	_ = s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		bits, found := readUint64(meta, MetaHeaderBits)
		if !found {
			ok = false
			return nil
		}
		eps, _ := readFloat64(meta, MetaEpsilon)
		dim, _ := readFloat64(meta, MetaTargetDimension)
		d = chain.Difficulty{HeaderBits: int(bits), Epsilon: eps, TargetDimension: dim}
		return nil
	})
	return d, ok
}

func readBalance(b *bbolt.Bucket, address string) chain.Amount {
	v := b.Get([]byte(address))
	if v == nil {
		return 0
	}
	return chain.Amount(int64(binary.BigEndian.Uint64(v)))
}

func writeBalance(b *bbolt.Bucket, address string, amount chain.Amount) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(int64(amount)))
	return b.Put([]byte(address), v)
}

func writeUint64(b *bbolt.Bucket, key string, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return b.Put([]byte(key), buf)
}

func readUint64(b *bbolt.Bucket, key string) (uint64, bool) {
	v := b.Get([]byte(key))
	if v == nil {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

func writeFloat64(b *bbolt.Bucket, key string, v float64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return b.Put([]byte(key), buf)
}

func readFloat64(b *bbolt.Bucket, key string) (float64, bool) {
	v := b.Get([]byte(key))
	if v == nil {
		return 0, false
	}
	return math.Float64frombits(binary.BigEndian.Uint64(v)), true
}
