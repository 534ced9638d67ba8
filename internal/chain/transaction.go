package chain

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/fractalpow/node/internal/crypto"
	"github.com/fractalpow/node/pkg/util"
)

// Transaction is the node's transfer record (§3). A coinbase
// transaction has an empty FromAddress and Signature.
type Transaction struct {
	FromAddress string
	ToAddress   string
	Amount      Amount
	Fee         Amount
	Timestamp   int64
	Signature   []byte
	PublicKey   []byte
	Nonce       uint64
	TxID        [32]byte
}

// IsCoinbase reports whether this is a coinbase transaction (§3a).
func (tx *Transaction) IsCoinbase() bool {
	return tx.FromAddress == "" && len(tx.Signature) == 0
}

// signingDigest is the canonical serialization over all fields except
// signature, public_key, and txid (§4.3) — this is what gets signed.
func (tx *Transaction) signingDigest() []byte {
	buf := util.PutString(tx.FromAddress)
	buf = append(buf, util.PutString(tx.ToAddress)...)
	buf = append(buf, util.Uint64ToBytes(uint64(tx.Amount))...)
	buf = append(buf, util.Uint64ToBytes(uint64(tx.Fee))...)
	buf = append(buf, util.Uint64ToBytes(uint64(tx.Timestamp))...)
	buf = append(buf, util.Uint64ToBytes(tx.Nonce)...)
	return buf
}

// canonicalBytes is the full canonical serialization of every field
// preceding txid, in field order (§3). Its SHA-256 is the txid.
func (tx *Transaction) canonicalBytes() []byte {
	buf := util.PutString(tx.FromAddress)
	buf = append(buf, util.PutString(tx.ToAddress)...)
	buf = append(buf, util.Uint64ToBytes(uint64(tx.Amount))...)
	buf = append(buf, util.Uint64ToBytes(uint64(tx.Fee))...)
	buf = append(buf, util.Uint64ToBytes(uint64(tx.Timestamp))...)
	buf = append(buf, util.PutBytes(tx.Signature)...)
	buf = append(buf, util.PutBytes(tx.PublicKey)...)
	buf = append(buf, util.Uint64ToBytes(tx.Nonce)...)
	return buf
}

// ComputeTxID recomputes and stores TxID from the current field
// values (§3: txid = SHA-256 of the canonical serialization).
func (tx *Transaction) ComputeTxID() [32]byte {
	tx.TxID = util.Sha256(tx.canonicalBytes())
	return tx.TxID
}

// Sign computes the signing digest, signs it, fills Signature and
// PublicKey, and recomputes TxID (§4.3).
func (tx *Transaction) Sign(priv *secp256k1.PrivateKey) {
	tx.PublicKey = priv.PubKey().SerializeUncompressed()
	tx.Signature = crypto.Sign(priv, tx.signingDigest())
	tx.ComputeTxID()
}

// GetBalanceFunc looks up an address's current balance.
type GetBalanceFunc func(address string) Amount

// Validate performs format checks, signature verification, and balance
// sufficiency at apply-time (§3b, §4.3).
func (tx *Transaction) Validate(getBalance GetBalanceFunc) error {
	if !tx.Amount.Valid() {
		return Reject(ReasonMalformed, fmt.Errorf("negative amount"))
	}
	if !tx.Fee.Valid() {
		return Reject(ReasonMalformed, fmt.Errorf("negative fee"))
	}

	if tx.IsCoinbase() {
		if len(tx.ToAddress) == 0 {
			return Reject(ReasonBadCoinbase, fmt.Errorf("missing coinbase recipient"))
		}
		return nil
	}

	if len(tx.FromAddress) < 25 || len(tx.FromAddress) > 64 {
		return Reject(ReasonMalformed, fmt.Errorf("from_address length %d out of range", len(tx.FromAddress)))
	}
	if err := crypto.ValidateAddress(tx.ToAddress); err != nil {
		return Reject(ReasonMalformed, fmt.Errorf("to_address: %w", err))
	}

	pub, err := crypto.PublicKeyFromBytes(tx.PublicKey)
	if err != nil {
		return Reject(ReasonMalformedSig, err)
	}
	addr, err := crypto.AddressFromPub(pub)
	if err != nil {
		return Reject(ReasonMalformedSig, err)
	}
	if addr != tx.FromAddress {
		return Reject(ReasonMalformedSig, fmt.Errorf("public key does not match from_address"))
	}

	ok, err := crypto.Verify(pub, tx.signingDigest(), tx.Signature)
	if err != nil {
		return Reject(ReasonMalformedSig, err)
	}
	if !ok {
		return Reject(ReasonMalformedSig, fmt.Errorf("signature verification failed"))
	}

	if getBalance != nil {
		balance := getBalance(tx.FromAddress)
		if balance < tx.Amount+tx.Fee {
			return Reject(ReasonInsufficientFunds, fmt.Errorf(
				"balance %s < amount+fee %s", balance, (tx.Amount + tx.Fee)))
		}
	}

	return nil
}
