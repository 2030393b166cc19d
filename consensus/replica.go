package consensus

import (
	"sync"

	"hotstuff2.dev/replica/crypto"
)

// BlockStore is the persisted, content-addressed block graph a replica
// votes and commits against (node/blockstore.go backs this with bbolt).
type BlockStore interface {
	ChainView
	Put(b Block) error
}

// CommitSink receives blocks in commit order, oldest first, once the
// two-chain rule certifies them. node/chainstate.go wires this to
// Application.Execute and to persisting the new committed height.
type CommitSink interface {
	Commit(b Block, stateRoot Hash) error
}

// ReplicaConfig is the fixed, per-deployment configuration a ReplicaState is
// built from; every field is read-only after NewReplicaState.
type ReplicaConfig struct {
	ID          uint32
	N           int
	F           int
	Self        crypto.SecretShare
	SelfPK      crypto.PublicShare
	AggregatePK crypto.PublicShare
	Keys        PublicKeyLookup
	Provider    crypto.CryptoProvider
	Store       BlockStore
	Commits     CommitSink
	App         Application
	// Evidence persists LastVotedView/HighQC across restarts so a replica
	// that crashes and rejoins never re-votes in a view it already voted
	// in. Optional: a nil Evidence runs safely for the lifetime of one
	// process but offers no cross-restart guarantee.
	Evidence *EvidenceStore
}

func (c ReplicaConfig) Quorum() int { return 2*c.F + 1 }

// leaderForView assigns the leader of a view by round-robin rotation over
// the N committee members.
func (c ReplicaConfig) leaderForView(view uint64) uint32 {
	return uint32(view % uint64(c.N))
}

func (c ReplicaConfig) IsLeader(view uint64) bool {
	return c.leaderForView(view) == c.ID
}

// voteBucket accumulates partial signatures for one (view, blockHash) pair
// until a quorum is reached.
type voteBucket struct {
	votes map[uint32]crypto.PartialSig
}

// ReplicaState is the mutable HotStuff-2 state machine for a single
// replica: the safety variables (LockedQC, LastVotedView), the liveness
// variable (HighQC), and the in-flight vote-collection state a leader needs
// to form QCs. All exported methods are safe for concurrent use; callers
// invoke them from whatever goroutine node/p2p_runtime.go dispatches
// incoming messages on.
type ReplicaState struct {
	cfg ReplicaConfig

	mu              sync.Mutex
	currentView     uint64
	lastVotedView   uint64
	lockedQC        QuorumCert
	highQC          QuorumCert
	committedHeight uint64
	genesisHash     Hash
	buckets         map[voteKey]*voteBucket
	// justifyByBlock records, for each block this replica has accepted, the
	// QC it was proposed with — i.e. the QC certifying its PARENT. The
	// two-chain commit rule needs two links of this chain at once (the
	// parent's justify and the grandparent's justify), which isn't
	// recoverable from the Block type alone since justify_qc is a
	// per-proposal artifact, not a block field.
	justifyByBlock map[Hash]QuorumCert
}

type voteKey struct {
	view uint64
	hash Hash
}

// NewReplicaState initializes a replica at the genesis block with no votes
// cast.
func NewReplicaState(cfg ReplicaConfig) *ReplicaState {
	genesis, genesisQC := GenesisChainState()
	_ = cfg.Store.Put(genesis)
	r := &ReplicaState{
		cfg:            cfg,
		currentView:    1,
		lockedQC:       genesisQC,
		highQC:         genesisQC,
		genesisHash:    genesis.Hash,
		buckets:        make(map[voteKey]*voteBucket),
		justifyByBlock: map[Hash]QuorumCert{genesis.Hash: genesisQC},
	}
	if cfg.Evidence != nil {
		if ev, ok, err := cfg.Evidence.Load(); err == nil && ok {
			r.lastVotedView = ev.VotedView
			r.highQC = HigherQC(r.highQC, ev.HighQC)
			r.tryAdvanceLock(ev.HighQC)
			if ev.VotedView+1 > r.currentView {
				r.currentView = ev.VotedView + 1
			}
		}
	}
	return r
}

func (r *ReplicaState) CurrentView() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentView
}

func (r *ReplicaState) HighQC() QuorumCert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.highQC
}

func (r *ReplicaState) LockedQC() QuorumCert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockedQC
}

// ProposeBlock builds the next block for view (called only when
// cfg.IsLeader(view)), atop the replica's current high QC, carrying txs as
// its batch.
func (r *ReplicaState) ProposeBlock(view uint64, txs []Transaction, timestampMs uint64) (Proposal, error) {
	r.mu.Lock()
	highQC := r.highQC
	r.mu.Unlock()

	parent, ok := r.cfg.Store.Block(highQC.BlockHash)
	if !ok {
		return Proposal{}, cerr(ErrStorageFailure, "propose: high_qc block %x missing from store", highQC.BlockHash[:4])
	}
	b := NewBlock(parent.Hash, parent.Height+1, uint64(r.cfg.ID), timestampMs, txs)
	return Proposal{View: view, Block: b, JustifyQC: highQC}, nil
}

// HandleProposal applies the voting rule to an incoming proposal.
// On success it returns this replica's vote to be sent to the next leader;
// ok is false (with a nil error) when the proposal is well-formed but the
// voting rule declines to vote for it (e.g. a stale view), which is a
// routine outcome, not a fault.
func (r *ReplicaState) HandleProposal(p Proposal) (vote Vote, ok bool, err error) {
	if err := ValidateProposal(r.cfg.Provider, r.cfg.AggregatePK, r.cfg.F, r.genesisHash, p); err != nil {
		return Vote{}, false, err
	}
	if p.Block.ProposerID != uint64(r.cfg.leaderForView(p.View)) {
		return Vote{}, false, cerr(ErrInvalidMessage, "proposal for view %d from non-leader %d", p.View, p.Block.ProposerID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p.View < r.currentView {
		return Vote{}, false, nil // stale proposal, not an error
	}
	if p.View <= r.lastVotedView {
		return Vote{}, false, nil // already voted this view or later
	}

	// Safety: either the block extends the locked branch, or its justify_qc
	// is newer than the lock (HotStuff's safe-override liveness escape:
	// a QC certifying a later view than our lock proves 2f+1 replicas moved
	// on, so it is always safe to follow).
	safe := p.JustifyQC.View > r.lockedQC.View || Extends(r.cfg.Store, p.Block.ParentHash, r.lockedQC.BlockHash)
	if !safe {
		return Vote{}, false, cerr(ErrConsensusSafety, "proposal at view %d violates lock at view %d", p.View, r.lockedQC.View)
	}

	if err := r.cfg.Store.Put(p.Block); err != nil {
		return Vote{}, false, cerr(ErrStorageFailure, "store block: %v", err)
	}

	r.highQC = HigherQC(r.highQC, p.JustifyQC)
	r.tryAdvanceLock(p.JustifyQC)
	r.justifyByBlock[p.Block.Hash] = p.JustifyQC
	r.tryCommit(p.JustifyQC, p.Block)

	r.lastVotedView = p.View
	r.currentView = p.View + 1

	if r.cfg.Evidence != nil {
		if err := r.cfg.Evidence.Save(ViewEvidence{VotedView: r.lastVotedView, HighQC: r.highQC}); err != nil {
			return Vote{}, false, cerr(ErrStorageFailure, "persist view evidence: %v", err)
		}
	}

	msg := VoteSignMessage(p.View, p.Block.Hash)
	sig, err := r.cfg.Provider.SignPartial(r.cfg.Self, msg)
	if err != nil {
		return Vote{}, false, cerr(ErrConsensusSafety, "sign vote: %v", err)
	}
	return Vote{View: p.View, BlockHash: p.Block.Hash, VoterID: r.cfg.ID, PartialSig: sig}, true, nil
}

// tryAdvanceLock moves locked_qc forward whenever the incoming justify_qc
// certifies a later view, per the standard HotStuff "lock on the highest
// QC we've seen" rule.
func (r *ReplicaState) tryAdvanceLock(qc QuorumCert) {
	if qc.View > r.lockedQC.View {
		r.lockedQC = qc
	}
}

// tryCommit applies the two-chain commit rule: justifyQC
// certifies block's parent; if the QC that parent was itself proposed with
// (parentJustify, i.e. the QC for parent's parent) certifies the view
// immediately before justifyQC's, then two consecutive links have formed
// and parent's parent commits. Call sites hold r.mu.
func (r *ReplicaState) tryCommit(justifyQC QuorumCert, block Block) {
	parent, ok := r.cfg.Store.Block(block.ParentHash)
	if !ok {
		return
	}
	parentJustify, ok := r.justifyByBlock[parent.Hash]
	if !ok {
		return
	}
	committedHash, fire := TwoChainCommit(parentJustify, justifyQC, parent)
	if !fire {
		return
	}
	committed, ok := r.cfg.Store.Block(committedHash)
	if !ok {
		return
	}
	if committed.Height <= r.committedHeight && r.committedHeight != 0 {
		return
	}
	stateRoot, err := r.cfg.App.Execute(committed)
	if err != nil {
		return
	}
	if err := r.cfg.Commits.Commit(committed, stateRoot); err == nil {
		r.committedHeight = committed.Height
	}
}

// HandleVote accumulates a vote into its (view, block) bucket and, once a
// quorum has been reached, aggregates and returns the resulting QC.
// Non-leaders still call this harmlessly (the bucket simply never reaches
// quorum from their perspective since they don't receive every vote), but
// in practice only the leader of v+1 needs to.
func (r *ReplicaState) HandleVote(v Vote) (QuorumCert, bool, error) {
	pk, ok := r.cfg.Keys.PublicKey(v.VoterID)
	if !ok {
		return QuorumCert{}, false, cerr(ErrInvalidMessage, "vote from unknown replica %d", v.VoterID)
	}
	if err := ValidateVote(r.cfg.Provider, pk, v); err != nil {
		return QuorumCert{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := voteKey{view: v.View, hash: v.BlockHash}
	b, ok := r.buckets[key]
	if !ok {
		b = &voteBucket{votes: make(map[uint32]crypto.PartialSig)}
		r.buckets[key] = b
	}
	b.votes[v.VoterID] = v.PartialSig

	if len(b.votes) < r.cfg.Quorum() {
		return QuorumCert{}, false, nil
	}

	msg := VoteSignMessage(v.View, v.BlockHash)
	pubKeys := make(map[uint32]crypto.PublicShare, len(b.votes))
	signers := make([]crypto.IndexedPartialSig, 0, len(b.votes))
	for id, sig := range b.votes {
		pk, _ := r.cfg.Keys.PublicKey(id)
		pubKeys[id] = pk
		signers = append(signers, crypto.IndexedPartialSig{Index: id, Sig: sig})
	}
	agg, err := r.cfg.Provider.Aggregate(msg, pubKeys, signers)
	if err != nil {
		return QuorumCert{}, false, cerr(ErrInvalidSignature, "aggregate votes for view %d: %v", v.View, err)
	}
	qc := QuorumCert{View: v.View, BlockHash: v.BlockHash, Signature: agg, SignerCount: len(signers)}
	delete(r.buckets, key)
	return qc, true, nil
}

// AdvanceView force-moves to a new view on pacemaker timeout or NewView
// quorum, independent of having voted; used by Pacemaker.
func (r *ReplicaState) AdvanceView(view uint64, highQC QuorumCert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if view > r.currentView {
		r.currentView = view
	}
	r.highQC = HigherQC(r.highQC, highQC)
	r.tryAdvanceLock(highQC)
}
