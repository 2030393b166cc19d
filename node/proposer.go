package node

import (
	"context"
	"time"

	"hotstuff2.dev/replica/consensus"
)

// ProposerConfig supplies the wall-clock source a leader stamps onto each
// block it proposes. Batch sizing/timing is governed by the pool's
// TxPoolConfig, not by this type.
type ProposerConfig struct {
	TimestampSource func() uint64
}

func DefaultProposerConfig() ProposerConfig {
	return ProposerConfig{TimestampSource: func() uint64 { return uint64(time.Now().UnixMilli()) }}
}

// Proposer drives block proposals for a leader replica: once it is this
// replica's turn (ReplicaConfig.IsLeader(view)), it drains the next ready
// batch from the pool and asks ReplicaState to build a Proposal atop its
// current high QC.
type Proposer struct {
	replica *consensus.ReplicaState
	pool    *TxPool
	cfg     ProposerConfig
}

func NewProposer(replica *consensus.ReplicaState, pool *TxPool, cfg ProposerConfig) *Proposer {
	if cfg.TimestampSource == nil {
		cfg.TimestampSource = func() uint64 { return uint64(time.Now().UnixMilli()) }
	}
	return &Proposer{replica: replica, pool: pool, cfg: cfg}
}

// ProposeNext blocks until the pool has a batch ready or ctx is canceled,
// then builds the next proposal for view. Callers (node/p2p_runtime.go)
// must have already checked this replica leads view and are responsible
// for broadcasting the returned Proposal.
func (p *Proposer) ProposeNext(ctx context.Context, view uint64) (consensus.Proposal, error) {
	txs, err := p.pool.WaitForBatch(ctx)
	if err != nil {
		return consensus.Proposal{}, err
	}
	return p.replica.ProposeBlock(view, txs, p.cfg.TimestampSource())
}
