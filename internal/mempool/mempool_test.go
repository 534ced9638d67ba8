package mempool

import (
	"testing"

	"github.com/fractalpow/node/internal/chain"
)

func tx(fee chain.Amount, salt byte) *chain.Transaction {
	t := &chain.Transaction{
		FromAddress: "senderAddrXXXXXXXXXXXXXXXXXXXXXX",
		ToAddress:   "recipientAddrXXXXXXXXXXXXXXXXXXX",
		Amount:      1 * chain.Scale,
		Fee:         fee,
		Timestamp:   1700000000 + int64(salt),
		Nonce:       uint64(salt),
	}
	t.ComputeTxID()
	return t
}

func TestAddAndGet(t *testing.T) {
	p := New()
	a := tx(100, 1)
	p.Add(a)
	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", p.Len())
	}
	if got := p.Get(a.TxID); got != a {
		t.Fatal("Get did not return the added transaction")
	}
}

func TestAddDuplicateIsNoop(t *testing.T) {
	p := New()
	a := tx(100, 1)
	p.Add(a)
	p.Add(a)
	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after duplicate add", p.Len())
	}
}

func TestRemove(t *testing.T) {
	p := New()
	a := tx(100, 1)
	p.Add(a)
	p.Remove([][32]byte{a.TxID})
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Remove", p.Len())
	}
}

func TestEvictsLowestFeeWhenFull(t *testing.T) {
	p := New()
	for i := 0; i < MaxSize; i++ {
		p.Add(tx(chain.Amount(i+1), byte(i%256)))
	}
	if p.Len() != MaxSize {
		t.Fatalf("Len() = %d, want %d", p.Len(), MaxSize)
	}

	// Lowest-fee tx currently in the pool has fee 1. Adding one more
	// higher-fee tx should evict it and keep the pool at MaxSize.
	newTx := tx(chain.Amount(MaxSize+1000), 250)
	p.Add(newTx)

	if p.Len() != MaxSize {
		t.Fatalf("Len() = %d, want %d after eviction", p.Len(), MaxSize)
	}
	if p.Get(newTx.TxID) == nil {
		t.Fatal("newly added higher-fee tx should survive eviction")
	}
}

func TestSelectForBlockOrdersByFeeAndRespectsBalance(t *testing.T) {
	p := New()
	low := tx(10, 1)
	high := tx(1000, 2)
	p.Add(low)
	p.Add(high)

	getBalance := func(addr string) chain.Amount { return 10 * chain.Scale }
	selected := p.SelectForBlock(getBalance)

	if len(selected) != 2 {
		t.Fatalf("len(selected) = %d, want 2", len(selected))
	}
	if selected[0].TxID != high.TxID {
		t.Fatal("higher-fee transaction should be selected first")
	}
}

func TestSelectForBlockSkipsOverdraft(t *testing.T) {
	p := New()
	a := tx(10, 1)
	p.Add(a)

	getBalance := func(addr string) chain.Amount { return 0 }
	selected := p.SelectForBlock(getBalance)
	if len(selected) != 0 {
		t.Fatalf("len(selected) = %d, want 0 when sender balance cannot cover amount+fee", len(selected))
	}
}
