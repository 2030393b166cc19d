package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/sha3"

	"hotstuff2.dev/replica/consensus"
	"hotstuff2.dev/replica/crypto"
	"hotstuff2.dev/replica/node/p2p"
	"hotstuff2.dev/replica/node/store"
)

// Metrics are the plain monotonic counters the orchestrator increments as
// it drives the consensus state machine, safe to read and increment from
// any peer goroutine. They back the health endpoint, not a push-based
// metrics pipeline.
type Metrics struct {
	VotesSent     atomic.Int64
	VotesReceived atomic.Int64
	QCsFormed     atomic.Int64
	ViewChanges   atomic.Int64
}

// Health is the orchestrator's point-in-time status snapshot, served as
// JSON at Config.MetricsAddr's /healthz.
type Health struct {
	View           uint64 `json:"view"`
	Height         uint64 `json:"height"`
	PeersConnected int    `json:"peers_connected"`
	PoolSize       int    `json:"pool_size"`
	IsLeader       bool   `json:"is_leader"`
	LockedQCHeight uint64 `json:"locked_qc_height"`
	VotesSent      int64  `json:"votes_sent"`
	VotesReceived  int64  `json:"votes_received"`
	QCsFormed      int64  `json:"qcs_formed"`
	ViewChanges    int64  `json:"view_changes"`
	PoolAdmissions int64  `json:"pool_admissions"`
	PoolEvictions  int64  `json:"pool_evictions"`
	SignerState    string `json:"signer_state"`
}

// RuntimeDeps collects everything constructed at startup (keys, storage,
// committee membership) that Runtime wires together but does not itself
// construct.
type RuntimeDeps struct {
	Config    Config
	DB        *store.DB
	Committee Committee
	Self      crypto.SecretShare
	SelfPK    crypto.PublicShare
	Provider  crypto.CryptoProvider
	App       consensus.Application
}

// Runtime is the orchestrator: it owns the replica state machine, the
// pacemaker, the transaction pool and proposer, and every live peer
// connection, and routes decoded transport traffic between them: a
// HotStuff-2 message router built on a peer-manager/peer-session pair.
type Runtime struct {
	cfg       Config
	replica   *consensus.ReplicaState
	pace      *consensus.Pacemaker
	pool      *TxPool
	prop      *Proposer
	chain     *ChainState
	store     *BlockStore
	syncer    *SyncEngine
	committee Committee
	cached    *crypto.CachedProvider
	evidence  *consensus.EvidenceStore
	ourHello  p2p.HelloPayload
	magic     uint32
	signer    *crypto.SignerMonitor

	listener net.Listener
	cancel   context.CancelFunc

	mu                sync.RWMutex
	peers             map[uint32]*p2p.Peer
	newViewCollectors map[uint64]*consensus.NewViewCollector

	Metrics Metrics
}

// NewRuntime wires deps into a Runtime ready to Start. It does not open any
// socket or start any goroutine.
func NewRuntime(deps RuntimeDeps) *Runtime {
	cfg := deps.Config
	blockStore := NewBlockStore(deps.DB)
	chain := NewChainState(deps.DB)
	cached := crypto.NewCachedProvider(deps.Provider, 4096)

	var evidence *consensus.EvidenceStore
	if cfg.DataDir != "" {
		path := filepath.Join(deps.DB.ChainDir(), "view_evidence.db")
		if ev, err := consensus.OpenEvidenceStore(path); err == nil {
			evidence = ev
		}
	}

	replica := consensus.NewReplicaState(consensus.ReplicaConfig{
		ID:          cfg.ReplicaID,
		N:           cfg.N,
		F:           cfg.F,
		Self:        deps.Self,
		SelfPK:      deps.SelfPK,
		AggregatePK: deps.Committee.AggregatePK,
		Keys:        deps.Committee,
		Provider:    cached,
		Store:       blockStore,
		Commits:     chain,
		App:         deps.App,
		Evidence:    evidence,
	})

	pool := NewTxPool(DefaultTxPoolConfig())
	prop := NewProposer(replica, pool, DefaultProposerConfig())
	syncer := NewSyncEngine(blockStore, nil, 1024)

	r := &Runtime{
		cfg:       cfg,
		replica:   replica,
		pool:      pool,
		prop:      prop,
		chain:     chain,
		store:     blockStore,
		syncer:    syncer,
		committee: deps.Committee,
		cached:    cached,
		evidence:  evidence,
		magic:     networkMagic(cfg.Network),
		peers:     make(map[uint32]*p2p.Peer),
		ourHello: p2p.HelloPayload{
			ProtocolVersion: p2p.ProtocolVersionV1,
			NetworkID:       networkID(cfg.Network),
			ReplicaID:       cfg.ReplicaID,
			CommitteeSize:   uint32(cfg.N),
		},
	}
	r.syncer.fetcher = r
	r.pace = consensus.NewPacemaker(
		consensus.PacemakerConfig{BaseTimeout: cfg.BaseTimeout, MaxTimeout: cfg.MaxTimeout},
		r.onLocalTimeout,
	)

	canary := []byte("hotstuff2/signer-health/" + cfg.Network)
	r.signer = crypto.NewSignerMonitor(crypto.SignerMonitorConfigFromEnv(), func() error {
		sig, err := deps.Provider.SignPartial(deps.Self, canary)
		if err != nil {
			return fmt.Errorf("signer health check: %w", err)
		}
		if !deps.Provider.VerifyPartial(deps.SelfPK, canary, sig) {
			return fmt.Errorf("signer health check: partial signature failed to verify")
		}
		return nil
	}, func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
	return r
}

// Start binds the listener, dials configured peers, and begins the
// pacemaker for view 1. It returns once listening has started; peer I/O
// and proposing run on background goroutines until ctx is canceled.
func (r *Runtime) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("runtime: listen %s: %w", r.cfg.BindAddr, err)
	}
	r.listener = ln

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.acceptLoop(runCtx)
	for _, addr := range r.cfg.Peers {
		go r.dialPeer(runCtx, addr)
	}
	go r.heartbeatLoop(runCtx)
	go r.signer.Run(runCtx)
	go r.pool.Run(runCtx)

	r.pace.NewRound(r.replica.CurrentView())
	if r.isLeader(r.replica.CurrentView()) {
		go r.runProposer(runCtx, r.replica.CurrentView())
	}
	return nil
}

func (r *Runtime) Stop() {
	if r.listener != nil {
		_ = r.listener.Close()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.pace.Stop()
	_ = r.evidence.Close()
}

const heartbeatInterval = 5 * time.Second

// heartbeatLoop broadcasts this replica's {view, height, is_leader,
// peer_count} on a fixed interval, unreliably: a dropped
// heartbeat just means a later one arrives, so it is never worth retrying.
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			view := r.replica.CurrentView()
			status := p2p.NodeStatus{
				View:      view,
				Height:    r.chain.CommittedHeight(),
				IsLeader:  r.isLeader(view),
				PeerCount: uint32(len(r.peerSnapshot())),
			}
			for _, p := range r.peerSnapshot() {
				_ = p.Send(p2p.TransportMessage{Kind: p2p.PayloadHeartbeat, Heartbeat: &status}, false)
			}
		}
	}
}

func (r *Runtime) acceptLoop(ctx context.Context) {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		go r.runPeer(ctx, conn, p2p.PeerRoleInbound)
	}
}

func (r *Runtime) dialPeer(ctx context.Context, addr string) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		if err != nil {
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(p2p.ReconnectBackoff(attempt)):
				continue
			}
		}
		attempt = 0
		r.runPeer(ctx, conn, p2p.PeerRoleOutbound)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (r *Runtime) runPeer(ctx context.Context, conn net.Conn, role p2p.PeerRole) {
	defer conn.Close()
	peer, err := p2p.NewPeer(conn, role, p2p.PeerConfig{
		Magic:       r.magic,
		OurHello:    r.ourHello,
		IdleTimeout: 60 * time.Second,
		PeerTimeout: 30 * time.Second,
	})
	if err != nil {
		return
	}
	if err := peer.Handshake(); err != nil {
		return
	}

	r.mu.Lock()
	r.peers[peer.PeerHello.ReplicaID] = peer
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.peers[peer.PeerHello.ReplicaID] == peer {
			delete(r.peers, peer.PeerHello.ReplicaID)
		}
		r.mu.Unlock()
	}()

	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go peer.RunRetryLoop(retryCtx, time.Second)

	_ = peer.Run(ctx, r)
}

// peerSnapshot returns the currently connected peers, used by broadcast and
// by the health endpoint's PeersConnected count.
func (r *Runtime) peerSnapshot() []*p2p.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*p2p.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

func (r *Runtime) peerByID(id uint32) (*p2p.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *Runtime) broadcastConsensus(msg consensus.ConsensusMessage) {
	for _, p := range r.peerSnapshot() {
		_ = p.Send(p2p.TransportMessage{Kind: p2p.PayloadConsensus, Consensus: &msg}, true)
	}
}

func (r *Runtime) sendConsensus(replicaID uint32, msg consensus.ConsensusMessage) error {
	p, ok := r.peerByID(replicaID)
	if !ok {
		return fmt.Errorf("runtime: no connection to replica %d", replicaID)
	}
	return p.Send(p2p.TransportMessage{Kind: p2p.PayloadConsensus, Consensus: &msg}, true)
}

func (r *Runtime) isLeader(view uint64) bool {
	return r.committee.leaderForView(view) == r.cfg.ReplicaID
}

// leaderForView exposes Committee's round-robin rotation the same way
// consensus.ReplicaConfig does, so Runtime can address NewView/Timeout
// messages without reaching into the replica's private config.
func (c Committee) leaderForView(view uint64) uint32 {
	return uint32(view % uint64(len(c.Members)))
}

// --- p2p.PeerHandler ---

func (r *Runtime) OnConsensusMessage(peer *p2p.Peer, msg consensus.ConsensusMessage) error {
	switch msg.Kind {
	case consensus.MsgProposal:
		return r.handleProposal(peer, *msg.Proposal)
	case consensus.MsgVote:
		return r.handleVote(*msg.Vote)
	case consensus.MsgTimeout:
		return r.handleTimeout(*msg.Timeout)
	case consensus.MsgNewView:
		return r.handleNewView(*msg.NewView)
	default:
		return fmt.Errorf("runtime: unknown consensus message kind %d", msg.Kind)
	}
}

func (r *Runtime) OnHeartbeat(peer *p2p.Peer, status p2p.NodeStatus) {
	_ = peer
	_ = status
}

func (r *Runtime) OnPeerDiscovery(peer *p2p.Peer, peers []p2p.PeerAddr) {
	for _, addr := range peers {
		if _, known := r.peerByID(addr.ReplicaID); known {
			continue
		}
		if addr.ReplicaID == r.cfg.ReplicaID {
			continue
		}
		go r.dialPeer(context.Background(), addr.Addr)
	}
}

func (r *Runtime) LookupBlock(hash consensus.Hash) (consensus.Block, bool) {
	return r.store.Block(hash)
}

// FetchBlock implements node.BlockFetcher for the sync engine: it asks
// every connected peer in turn until one has the block.
func (r *Runtime) FetchBlock(ctx context.Context, hash consensus.Hash) (consensus.Block, error) {
	for _, p := range r.peerSnapshot() {
		block, found, err := p.RequestBlock(ctx, hash, 3*time.Second)
		if err != nil || !found {
			continue
		}
		return block, nil
	}
	return consensus.Block{}, fmt.Errorf("runtime: no peer has block %x", hash[:4])
}

// --- consensus wiring ---

func (r *Runtime) handleProposal(peer *p2p.Peer, p consensus.Proposal) error {
	if !r.signer.CanSign() {
		// Local signer unreachable: abstain and let the pacemaker time out.
		return nil
	}
	if _, ok := r.store.Block(p.Block.ParentHash); !ok && p.Block.Height > 0 {
		if _, err := r.syncer.EnsureAncestors(context.Background(), p.Block.ParentHash); err != nil {
			return fmt.Errorf("runtime: catch up before proposal: %w", err)
		}
	}

	vote, ok, err := r.replica.HandleProposal(p)
	if err != nil {
		return err
	}
	r.pace.NewRound(r.replica.CurrentView())
	if !ok {
		return nil
	}

	nextLeader := r.committee.leaderForView(p.View + 1)
	voteMsg := consensus.ConsensusMessage{Kind: consensus.MsgVote, Vote: &vote}
	r.Metrics.VotesSent.Add(1)
	if nextLeader == r.cfg.ReplicaID {
		return r.handleVote(vote)
	}
	return r.sendConsensus(nextLeader, voteMsg)
}

func (r *Runtime) handleVote(v consensus.Vote) error {
	r.Metrics.VotesReceived.Add(1)
	qc, ok, err := r.replica.HandleVote(v)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	r.Metrics.QCsFormed.Add(1)
	r.pace.ProgressMade()
	r.cached.PurgeOnViewChange()

	nextView := qc.View + 1
	r.replica.AdvanceView(nextView, qc)
	r.pace.NewRound(nextView)
	if r.isLeader(nextView) {
		go r.runProposer(context.Background(), nextView)
	}
	return nil
}

func (r *Runtime) handleTimeout(t consensus.Timeout) error {
	// Individual Timeout messages are informational; this replica's own
	// pacemaker firing is what drives it to send one (onLocalTimeout), and
	// NewView quorum collection is what actually advances the view.
	return nil
}

func (r *Runtime) handleNewView(nv consensus.NewView) error {
	r.mu.Lock()
	collector, ok := r.newViewCollectors[nv.View]
	if !ok {
		collector = consensus.NewNewViewCollector(r.quorum())
		if r.newViewCollectors == nil {
			r.newViewCollectors = make(map[uint64]*consensus.NewViewCollector)
		}
		r.newViewCollectors[nv.View] = collector
	}
	r.mu.Unlock()

	highQC, fired := collector.Add(nv)
	if !fired {
		return nil
	}
	r.Metrics.ViewChanges.Add(1)
	r.replica.AdvanceView(nv.View, highQC)
	r.pace.NewRound(nv.View)
	if r.isLeader(nv.View) {
		go r.runProposer(context.Background(), nv.View)
	}
	return nil
}

func (r *Runtime) quorum() int { return 2*r.cfg.F + 1 }

// onLocalTimeout fires when this replica's pacemaker times out a view
// without progress: it broadcasts a NewView carrying its highest
// known QC so the next leader can safely propose once 2f+1 agree.
func (r *Runtime) onLocalTimeout(view uint64) {
	nv := consensus.NewView{View: view + 1, ReplicaID: r.cfg.ReplicaID, HighQC: r.replica.HighQC()}
	msg := consensus.ConsensusMessage{Kind: consensus.MsgNewView, NewView: &nv}
	nextLeader := r.committee.leaderForView(view + 1)
	if nextLeader == r.cfg.ReplicaID {
		_ = r.handleNewView(nv)
		return
	}
	_ = r.sendConsensus(nextLeader, msg)
}

// runProposer drains the next ready transaction batch and broadcasts the
// resulting proposal, for a view this replica leads.
func (r *Runtime) runProposer(ctx context.Context, view uint64) {
	p, err := r.prop.ProposeNext(ctx, view)
	if err != nil {
		return
	}
	msg := consensus.ConsensusMessage{Kind: consensus.MsgProposal, Proposal: &p}
	r.broadcastConsensus(msg)
}

// --- health / admission surface ---

func (r *Runtime) AdmitTransaction(tx consensus.Transaction) error {
	return r.pool.Admit(tx)
}

func (r *Runtime) Health() Health {
	view := r.replica.CurrentView()
	lockedQC := r.replica.LockedQC()
	var lockedHeight uint64
	if b, ok := r.store.Block(lockedQC.BlockHash); ok {
		lockedHeight = b.Height
	}
	return Health{
		View:           view,
		Height:         r.chain.CommittedHeight(),
		PeersConnected: len(r.peerSnapshot()),
		PoolSize:       r.pool.Len(),
		IsLeader:       r.isLeader(view),
		LockedQCHeight: lockedHeight,
		VotesSent:      r.Metrics.VotesSent.Load(),
		VotesReceived:  r.Metrics.VotesReceived.Load(),
		QCsFormed:      r.Metrics.QCsFormed.Load(),
		ViewChanges:    r.Metrics.ViewChanges.Load(),
		PoolAdmissions: r.pool.Admissions(),
		PoolEvictions:  r.pool.Evictions(),
		SignerState:    r.signer.State().String(),
	}
}

// ServeHealth starts an HTTP server exposing the health snapshot at
// /healthz until ctx is canceled.
func (r *Runtime) ServeHealth(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Health())
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func networkID(network string) [32]byte {
	return sha3.Sum256([]byte("hotstuff2/" + network))
}

// NetworkIDHex exposes networkID in the hex form store.Open expects, so a
// CLI entrypoint can open the block store before a Runtime exists.
func NetworkIDHex(network string) string {
	id := networkID(network)
	return fmt.Sprintf("%x", id)
}

func networkMagic(network string) uint32 {
	sum := sha3.Sum256([]byte("hotstuff2-magic/" + network))
	return uint32(sum[0]) | uint32(sum[1])<<8 | uint32(sum[2])<<16 | uint32(sum[3])<<24
}
