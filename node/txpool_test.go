package node

import (
	"context"
	"fmt"
	"testing"
	"time"

	"hotstuff2.dev/replica/consensus"
)

func mkTx(id string) consensus.Transaction {
	return consensus.Transaction{ID: id, Payload: []byte("payload-" + id)}
}

func mkFeeTx(id string, fee uint64, payloadLen int) consensus.Transaction {
	return consensus.Transaction{ID: id, Payload: make([]byte, payloadLen), Fee: fee}
}

// A small transaction with a low fee must not outrank a larger transaction
// with a high enough fee: the fee term dominates the payload-size penalty
// for any realistic payload.
func TestTxPoolPriorityFavorsHigherFeeOverSmallerPayload(t *testing.T) {
	p := NewTxPool(DefaultTxPoolConfig())
	txA := mkFeeTx("a", 0, 16)      // small, no fee
	txB := mkFeeTx("b", 5000, 2048) // larger, fee-paying
	if err := p.Admit(txA); err != nil {
		t.Fatalf("Admit a: %v", err)
	}
	if err := p.Admit(txB); err != nil {
		t.Fatalf("Admit b: %v", err)
	}
	batch := p.NextBatch(1)
	if len(batch) != 1 || batch[0].ID != "b" {
		t.Fatalf("expected higher-fee tx b to win next_batch(1), got %+v", batch)
	}
}

func TestTxPoolFIFOModeIgnoresFee(t *testing.T) {
	cfg := DefaultTxPoolConfig()
	cfg.Mode = PoolModeFIFO
	p := NewTxPool(cfg)
	if err := p.Admit(mkFeeTx("first", 0, 16)); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := p.Admit(mkFeeTx("second", 9999, 16)); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	batch := p.NextBatch(1)
	if len(batch) != 1 || batch[0].ID != "first" {
		t.Fatalf("expected FIFO mode to keep arrival order regardless of fee, got %+v", batch)
	}
}

func TestTxPoolEvictionPolicyFIFO(t *testing.T) {
	cfg := DefaultTxPoolConfig()
	cfg.MaxPoolSize = 2
	cfg.Eviction = EvictFIFO
	p := NewTxPool(cfg)
	if err := p.Admit(mkFeeTx("old", 9999, 16)); err != nil { // high fee, but oldest
		t.Fatalf("Admit: %v", err)
	}
	if err := p.Admit(mkFeeTx("mid", 0, 16)); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := p.Admit(mkFeeTx("new", 0, 16)); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if _, ok := p.byID["old"]; ok {
		t.Fatalf("expected FIFO eviction to drop the earliest-admitted tx regardless of fee")
	}
}

func TestTxPoolMaintenanceSweepsAgedTransactions(t *testing.T) {
	cfg := DefaultTxPoolConfig()
	cfg.MaxTxAge = time.Minute
	cfg.SweepEvery = time.Millisecond
	p := NewTxPool(cfg)
	if err := p.Admit(mkTx("stale")); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	real := monotonicNow
	defer func() { monotonicNow = real }()
	monotonicNow = func() time.Time { return real().Add(2 * time.Minute) }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go p.Run(ctx)
	<-ctx.Done()

	if p.Len() != 0 {
		t.Fatalf("expected maintenance sweep to evict aged-out tx, Len=%d", p.Len())
	}
	if p.Evictions() == 0 {
		t.Fatalf("expected Evictions to record the age-based eviction")
	}
}

func TestTxPoolAdmitRejectsDuplicate(t *testing.T) {
	p := NewTxPool(DefaultTxPoolConfig())
	if err := p.Admit(mkTx("a")); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := p.Admit(mkTx("a")); err == nil {
		t.Fatal("expected duplicate rejection")
	}
	if p.Len() != 1 {
		t.Fatalf("Len=%d want 1", p.Len())
	}
}

func TestTxPoolWaitForBatchRespectsMinBatch(t *testing.T) {
	cfg := DefaultTxPoolConfig()
	cfg.MinBatchSize = 3
	cfg.BatchTimeout = 50 * time.Millisecond
	p := NewTxPool(cfg)

	for i := 0; i < 2; i++ {
		if err := p.Admit(mkTx(fmt.Sprintf("tx%d", i))); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	batch, err := p.WaitForBatch(ctx)
	if err != nil {
		t.Fatalf("WaitForBatch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected timeout flush of 2 txs, got %d", len(batch))
	}
}

func TestTxPoolWaitForBatchHitsMax(t *testing.T) {
	cfg := DefaultTxPoolConfig()
	cfg.MinBatchSize = 1
	cfg.MaxBatchSize = 2
	cfg.BatchTimeout = time.Second
	p := NewTxPool(cfg)

	for i := 0; i < 5; i++ {
		if err := p.Admit(mkTx(fmt.Sprintf("tx%d", i))); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	batch, err := p.WaitForBatch(ctx)
	if err != nil {
		t.Fatalf("WaitForBatch: %v", err)
	}
	if len(batch) > cfg.MaxBatchSize {
		t.Fatalf("batch size %d exceeds max %d", len(batch), cfg.MaxBatchSize)
	}
}

func TestTxPoolRemoveCommitted(t *testing.T) {
	p := NewTxPool(DefaultTxPoolConfig())
	tx := mkTx("a")
	if err := p.Admit(tx); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	b := consensus.NewBlock(consensus.ZeroHash, 1, 0, 0, []consensus.Transaction{tx})
	p.RemoveCommitted(b)
	if p.Len() != 0 {
		t.Fatalf("Len=%d want 0 after commit removal", p.Len())
	}
}

func TestTxPoolEvictsWhenFull(t *testing.T) {
	cfg := DefaultTxPoolConfig()
	cfg.MaxPoolSize = 2
	p := NewTxPool(cfg)

	if err := p.Admit(mkTx("a")); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := p.Admit(mkTx("b")); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := p.Admit(mkTx("c")); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("Len=%d want 2 after eviction", p.Len())
	}
}
