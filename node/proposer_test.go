package node

import (
	"context"
	"testing"
	"time"

	"hotstuff2.dev/replica/consensus"
	"hotstuff2.dev/replica/crypto"
)

type memBlockStore struct {
	blocks map[consensus.Hash]consensus.Block
}

func newMemBlockStore() *memBlockStore {
	return &memBlockStore{blocks: make(map[consensus.Hash]consensus.Block)}
}

func (s *memBlockStore) Block(h consensus.Hash) (consensus.Block, bool) {
	b, ok := s.blocks[h]
	return b, ok
}

func (s *memBlockStore) Put(b consensus.Block) error {
	s.blocks[b.Hash] = b
	return nil
}

type memCommitSink struct {
	committed []consensus.Block
}

func (s *memCommitSink) Commit(b consensus.Block, stateRoot consensus.Hash) error {
	s.committed = append(s.committed, b)
	return nil
}

func singleReplicaConfig(t *testing.T) consensus.ReplicaConfig {
	t.Helper()
	ks, err := crypto.GenerateKeys(1, 1)
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	committee := NewCommittee(ks)
	return consensus.ReplicaConfig{
		ID:          0,
		N:           1,
		F:           0,
		Self:        ks.Shares[0],
		SelfPK:      ks.PublicKeys[0],
		AggregatePK: ks.AggregatePK,
		Keys:        committee,
		Provider:    crypto.SoftwareProvider{},
		Store:       newMemBlockStore(),
		Commits:     &memCommitSink{},
		App:         consensus.NoopApplication{},
	}
}

func TestProposerProposeNextDrainsPool(t *testing.T) {
	cfg := singleReplicaConfig(t)
	replica := consensus.NewReplicaState(cfg)

	pool := NewTxPool(DefaultTxPoolConfig())
	if err := pool.Admit(consensus.Transaction{ID: "a", Payload: []byte("x")}); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	p := NewProposer(replica, pool, ProposerConfig{TimestampSource: func() uint64 { return 42 }})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	prop, err := p.ProposeNext(ctx, replica.CurrentView())
	if err != nil {
		t.Fatalf("ProposeNext: %v", err)
	}
	if len(prop.Block.Transactions) != 1 {
		t.Fatalf("expected 1 tx in proposal, got %d", len(prop.Block.Transactions))
	}
	if prop.Block.TimestampMs != 42 {
		t.Fatalf("timestamp = %d, want 42", prop.Block.TimestampMs)
	}
}

func TestProposerProposeNextRespectsContextCancellation(t *testing.T) {
	cfg := singleReplicaConfig(t)
	replica := consensus.NewReplicaState(cfg)
	pool := NewTxPool(DefaultTxPoolConfig())

	p := NewProposer(replica, pool, DefaultProposerConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.ProposeNext(ctx, replica.CurrentView()); err == nil {
		t.Fatal("expected error from canceled context with an empty pool")
	}
}
