package node

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hotstuff2.dev/replica/consensus"
)

// PoolMode selects how pooledTx.priority ranks pending transactions, and
// in turn the order WaitForBatch drains them in.
type PoolMode int

const (
	// PoolModePriority ranks by fee-weighted priority (see pooledTx.priority).
	PoolModePriority PoolMode = iota
	// PoolModeFIFO ranks strictly by arrival order, earliest first.
	PoolModeFIFO
)

// EvictionPolicy selects which pooled transaction evictLocked removes when
// the pool is full and a new admission needs room.
type EvictionPolicy int

const (
	// EvictLowestPriority drops the transaction with the lowest priority()
	// score, regardless of age or mode. The default: it protects the batch
	// the proposer is about to build.
	EvictLowestPriority EvictionPolicy = iota
	// EvictFIFO drops the earliest-admitted transaction (lowest seq).
	EvictFIFO
	// EvictOldestFirst drops the transaction that has sat in the pool
	// longest by wall-clock admission time.
	EvictOldestFirst
	// EvictLRU drops the transaction least recently touched by Admit or a
	// priority recompute, not merely the oldest by original admission time.
	EvictLRU
)

// TxPoolConfig bounds the admission pool and the batching policy the
// leader's proposer reads from.
type TxPoolConfig struct {
	MaxPoolSize  int
	MinBatchSize int
	MaxBatchSize int
	BatchTimeout time.Duration

	Mode       PoolMode
	Eviction   EvictionPolicy
	MaxTxAge   time.Duration // transactions older than this are evicted by the maintenance loop
	SweepEvery time.Duration
}

func DefaultTxPoolConfig() TxPoolConfig {
	return TxPoolConfig{
		MaxPoolSize:  100_000,
		MinBatchSize: 1,
		MaxBatchSize: 5000,
		BatchTimeout: 200 * time.Millisecond,
		Mode:         PoolModePriority,
		Eviction:     EvictLowestPriority,
		MaxTxAge:     10 * time.Minute,
		SweepEvery:   30 * time.Second,
	}
}

// pooledTx is a transaction with the bookkeeping its priority and eviction
// policies need: seq for FIFO ordering, admittedAt for age-based eviction,
// and touchedAt for LRU.
type pooledTx struct {
	tx         consensus.Transaction
	seq        uint64
	admittedAt time.Time
	touchedAt  time.Time
	index      int // heap.Interface bookkeeping

	mode PoolMode
}

// priority implements the fee-weighted priority score:
//
//	priority = fee/1000 + 100 - payload_size/1024
//
// floored at 0 so an oversized, fee-less transaction never goes negative
// and wrap around a signed comparison. In PoolModeFIFO, priority instead
// reflects strict arrival order (earlier seq ranks higher) so the heap
// drains in submission order regardless of fee.
func (p *pooledTx) priority() int64 {
	if p.mode == PoolModeFIFO {
		return -int64(p.seq)
	}
	score := int64(p.tx.Fee)/1000 + 100 - int64(len(p.tx.Payload))/1024
	if score < 0 {
		score = 0
	}
	return score
}

type txHeap []*pooledTx

func (h txHeap) Len() int { return len(h) }
func (h txHeap) Less(i, j int) bool {
	if h[i].priority() != h[j].priority() {
		return h[i].priority() > h[j].priority()
	}
	return h[i].seq < h[j].seq // ties break to the earlier arrival
}
func (h txHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *txHeap) Push(x any) {
	p := x.(*pooledTx)
	p.index = len(*h)
	*h = append(*h, p)
}
func (h *txHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*h = old[:n-1]
	return p
}

// TxPool is the transaction admission and batching queue a leader drains
// when it proposes a block. It deduplicates by transaction ID, evicts an
// entry under cfg.Eviction when full, signals WaitForBatch once enough
// transactions have queued (or BatchTimeout elapses), and runs a background
// sweep evicting anything older than cfg.MaxTxAge.
type TxPool struct {
	cfg TxPoolConfig

	mu       sync.Mutex
	byID     map[string]*pooledTx
	heap     txHeap
	nextSeq  uint64
	notifyCh chan struct{}

	admissions atomic.Int64
	evictions  atomic.Int64
}

func NewTxPool(cfg TxPoolConfig) *TxPool {
	return &TxPool{
		cfg:      cfg,
		byID:     make(map[string]*pooledTx),
		notifyCh: make(chan struct{}, 1),
	}
}

// Admit validates and enqueues tx. Duplicate IDs are rejected rather than
// silently replacing the existing entry, since a client resubmitting the
// same ID with different content is indistinguishable from an attack.
func (p *TxPool) Admit(tx consensus.Transaction) error {
	if err := consensus.ValidateTransaction(tx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byID[tx.ID]; exists {
		return cerrDuplicate(tx.ID)
	}
	if len(p.byID) >= p.cfg.MaxPoolSize {
		p.evictLocked()
	}

	now := monotonicNow()
	pt := &pooledTx{tx: tx, seq: p.nextSeq, admittedAt: now, touchedAt: now, mode: p.cfg.Mode}
	p.nextSeq++
	p.byID[tx.ID] = pt
	heap.Push(&p.heap, pt)
	p.admissions.Add(1)

	p.signal()
	return nil
}

// Admissions and Evictions report running totals for the health/metrics
// endpoint; they never reset across the pool's lifetime.
func (p *TxPool) Admissions() int64 { return p.admissions.Load() }
func (p *TxPool) Evictions() int64  { return p.evictions.Load() }

// evictLocked removes one transaction under cfg.Eviction's policy. Callers
// hold p.mu.
func (p *TxPool) evictLocked() {
	if len(p.heap) == 0 {
		return
	}
	var victim *pooledTx
	switch p.cfg.Eviction {
	case EvictFIFO:
		victim = p.heap[0]
		for _, pt := range p.heap {
			if pt.seq < victim.seq {
				victim = pt
			}
		}
	case EvictOldestFirst:
		victim = p.heap[0]
		for _, pt := range p.heap {
			if pt.admittedAt.Before(victim.admittedAt) {
				victim = pt
			}
		}
	case EvictLRU:
		victim = p.heap[0]
		for _, pt := range p.heap {
			if pt.touchedAt.Before(victim.touchedAt) {
				victim = pt
			}
		}
	default: // EvictLowestPriority
		victim = p.heap[0]
		for _, pt := range p.heap {
			if pt.priority() < victim.priority() {
				victim = pt
			}
		}
	}
	heap.Remove(&p.heap, victim.index)
	delete(p.byID, victim.tx.ID)
	p.evictions.Add(1)
}

func (p *TxPool) signal() {
	select {
	case p.notifyCh <- struct{}{}:
	default:
	}
}

// Len reports the number of pending, uncommitted transactions.
func (p *TxPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heap)
}

// WaitForBatch blocks until MinBatchSize transactions are available, the
// pool reaches MaxBatchSize, BatchTimeout elapses with at least one
// transaction queued, or ctx is canceled. It returns the batch (highest
// priority first, up to MaxBatchSize) without removing it from the pool —
// callers must call RemoveCommitted once the batch's block commits.
func (p *TxPool) WaitForBatch(ctx context.Context) ([]consensus.Transaction, error) {
	deadline := time.NewTimer(p.cfg.BatchTimeout)
	defer deadline.Stop()

	for {
		if batch := p.snapshotBatch(); len(batch) >= p.cfg.MinBatchSize && len(batch) > 0 {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.notifyCh:
			if batch := p.snapshotBatch(); len(batch) >= p.cfg.MaxBatchSize {
				return batch, nil
			}
		case <-deadline.C:
			batch := p.snapshotBatch()
			if len(batch) > 0 {
				return batch, nil
			}
			deadline.Reset(p.cfg.BatchTimeout)
		}
	}
}

// NextBatch returns up to n of the highest-priority pending transactions
// without blocking and without removing them from the pool.
func (p *TxPool) NextBatch(n int) []consensus.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orderedLocked(n)
}

func (p *TxPool) snapshotBatch() []consensus.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orderedLocked(p.cfg.MaxBatchSize)
}

// orderedLocked returns up to n pending transactions in priority order.
// Callers hold p.mu.
func (p *TxPool) orderedLocked(n int) []consensus.Transaction {
	if n > len(p.heap) {
		n = len(p.heap)
	}
	ordered := make(txHeap, len(p.heap))
	copy(ordered, p.heap)
	// copy preserves heap order only partially; a full sort gives a stable,
	// deterministic batch ordering across replicas proposing from similar
	// pool contents.
	sortByPriorityDesc(ordered)

	out := make([]consensus.Transaction, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ordered[i].tx)
	}
	return out
}

func sortByPriorityDesc(h txHeap) {
	// insertion sort: pool batches are bounded by MaxBatchSize (thousands),
	// small enough that O(n^2) in the worst case is not a concern, and
	// stability matters more here than asymptotic speed.
	for i := 1; i < len(h); i++ {
		j := i
		for j > 0 && h.Less(j, j-1) {
			h[j], h[j-1] = h[j-1], h[j]
			j--
		}
	}
}

// RemoveCommitted drops every transaction in b from the pool once b has
// committed, so future batches don't re-propose it.
func (p *TxPool) RemoveCommitted(b consensus.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tx := range b.Transactions {
		pt, ok := p.byID[tx.ID]
		if !ok {
			continue
		}
		heap.Remove(&p.heap, pt.index)
		delete(p.byID, tx.ID)
	}
}

// Run drives the pool's background maintenance sweep: every
// cfg.SweepEvery, it evicts anything older than cfg.MaxTxAge and refreshes
// priorities for what remains (priority() is already computed on demand,
// so this amounts to re-heapifying after removals). It returns when ctx is
// canceled.
func (p *TxPool) Run(ctx context.Context) {
	if p.cfg.SweepEvery <= 0 || p.cfg.MaxTxAge <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *TxPool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := monotonicNow().Add(-p.cfg.MaxTxAge)
	stale := make([]*pooledTx, 0)
	for _, pt := range p.heap {
		if pt.admittedAt.Before(cutoff) {
			stale = append(stale, pt)
		}
	}
	for _, pt := range stale {
		heap.Remove(&p.heap, pt.index)
		delete(p.byID, pt.tx.ID)
		p.evictions.Add(1)
	}
	heap.Init(&p.heap)
}

// monotonicNow is a seam so tests can fake age without sleeping; production
// always uses the wall clock.
var monotonicNow = time.Now

func cerrDuplicate(id string) error {
	return &consensus.ConsensusError{Kind: consensus.ErrDuplicateTx, Msg: "tx " + id + " already pooled"}
}
