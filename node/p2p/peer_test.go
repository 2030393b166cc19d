package p2p

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"hotstuff2.dev/replica/consensus"
)

type testHandler struct {
	consensusCalled atomic.Int32
	heartbeatCalled atomic.Int32
	discoveryCalled atomic.Int32
	blocks          map[consensus.Hash]consensus.Block

	mu   sync.Mutex
	last consensus.ConsensusMessage
}

func (h *testHandler) OnConsensusMessage(_ *Peer, msg consensus.ConsensusMessage) error {
	h.mu.Lock()
	h.last = msg
	h.mu.Unlock()
	h.consensusCalled.Add(1)
	return nil
}

func (h *testHandler) OnHeartbeat(_ *Peer, _ NodeStatus) {
	h.heartbeatCalled.Add(1)
}

func (h *testHandler) OnPeerDiscovery(_ *Peer, _ []PeerAddr) {
	h.discoveryCalled.Add(1)
}

func (h *testHandler) LookupBlock(hash consensus.Hash) (consensus.Block, bool) {
	b, ok := h.blocks[hash]
	return b, ok
}

func dialPeerPair(t *testing.T, magic uint32) (server, client net.Conn, cleanup func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s := <-accepted
	return s, c, func() {
		ln.Close()
		s.Close()
		c.Close()
	}
}

func TestPeerHandshakeThenConsensusDispatch(t *testing.T) {
	magic := uint32(0x0B110907)
	var networkID [32]byte
	networkID[0] = 7

	serverConn, clientConn, cleanup := dialPeerPair(t, magic)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewPeer(serverConn, PeerRoleInbound, PeerConfig{
		Magic:    magic,
		OurHello: HelloPayload{NetworkID: networkID, ReplicaID: 1, CommitteeSize: 4},
	})
	if err != nil {
		t.Fatalf("NewPeer server: %v", err)
	}
	client, err := NewPeer(clientConn, PeerRoleOutbound, PeerConfig{
		Magic:    magic,
		OurHello: HelloPayload{NetworkID: networkID, ReplicaID: 0, CommitteeSize: 4},
	})
	if err != nil {
		t.Fatalf("NewPeer client: %v", err)
	}

	th := &testHandler{}
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx, th) }()

	if err := client.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	block := consensus.Genesis()
	vote := consensus.ConsensusMessage{Kind: consensus.MsgVote, Vote: &consensus.Vote{
		View: 1, BlockHash: block.Hash, VoterID: 0,
	}}
	if err := client.Send(TransportMessage{Kind: PayloadConsensus, Consensus: &vote}, true); err != nil {
		t.Fatalf("client send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for th.consensusCalled.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if th.consensusCalled.Load() == 0 {
		t.Fatalf("expected consensus message to be dispatched")
	}
	if server.Retry.Len() != 0 {
		// the server did not send anything reliable, so nothing to check here;
		// guard against accidental cross-wiring of retry state.
	}

	cancel()
	<-serverErr
}

func TestPeerReliableSendTracksUntilAck(t *testing.T) {
	magic := uint32(0x0B110907)
	var networkID [32]byte

	serverConn, clientConn, cleanup := dialPeerPair(t, magic)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewPeer(serverConn, PeerRoleInbound, PeerConfig{
		Magic:    magic,
		OurHello: HelloPayload{NetworkID: networkID, ReplicaID: 1, CommitteeSize: 4},
	})
	if err != nil {
		t.Fatalf("NewPeer server: %v", err)
	}
	client, err := NewPeer(clientConn, PeerRoleOutbound, PeerConfig{
		Magic:    magic,
		OurHello: HelloPayload{NetworkID: networkID, ReplicaID: 0, CommitteeSize: 4},
	})
	if err != nil {
		t.Fatalf("NewPeer client: %v", err)
	}

	th := &testHandler{}
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx, th) }()

	if err := client.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	status := NodeStatus{View: 4, Height: 3, IsLeader: true, PeerCount: 3}
	if err := client.Send(TransportMessage{Kind: PayloadHeartbeat, Heartbeat: &status}, true); err != nil {
		t.Fatalf("send heartbeat: %v", err)
	}
	if client.Retry.Len() != 1 {
		t.Fatalf("expected 1 pending reliable send, got %d", client.Retry.Len())
	}

	deadline := time.Now().Add(2 * time.Second)
	for th.heartbeatCalled.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if th.heartbeatCalled.Load() == 0 {
		t.Fatalf("expected heartbeat to be dispatched")
	}

	deadline = time.Now().Add(2 * time.Second)
	for client.Retry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if client.Retry.Len() != 0 {
		t.Fatalf("expected ack to clear retry queue, still pending=%d", client.Retry.Len())
	}

	cancel()
	<-serverErr
}

func TestPeerDedupDropsReplayedMessage(t *testing.T) {
	magic := uint32(0x0B110907)
	var networkID [32]byte

	serverConn, clientConn, cleanup := dialPeerPair(t, magic)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewPeer(serverConn, PeerRoleInbound, PeerConfig{
		Magic:    magic,
		OurHello: HelloPayload{NetworkID: networkID, ReplicaID: 1, CommitteeSize: 4},
	})
	if err != nil {
		t.Fatalf("NewPeer server: %v", err)
	}
	client, err := NewPeer(clientConn, PeerRoleOutbound, PeerConfig{
		Magic:    magic,
		OurHello: HelloPayload{NetworkID: networkID, ReplicaID: 0, CommitteeSize: 4},
	})
	if err != nil {
		t.Fatalf("NewPeer client: %v", err)
	}

	th := &testHandler{}
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx, th) }()

	if err := client.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	status := NodeStatus{View: 1, Height: 1, IsLeader: false, PeerCount: 1}
	msg := TransportMessage{ID: uuid.New(), Kind: PayloadHeartbeat, Heartbeat: &status}
	if err := client.Send(msg, false); err != nil {
		t.Fatalf("first send: %v", err)
	}

	// Resend the exact same message id, simulating a retransmitted duplicate frame.
	time.Sleep(50 * time.Millisecond)
	body, err := EncodeTransportMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := WriteMessage(client.Conn, magic, CmdFrame, body); err != nil {
		t.Fatalf("resend: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if th.heartbeatCalled.Load() != 1 {
		t.Fatalf("expected exactly 1 dispatch after dedup, got %d", th.heartbeatCalled.Load())
	}

	cancel()
	<-serverErr
}

func TestFaultScoreSuspectedFaultyThresholds(t *testing.T) {
	now := time.Now()
	fs := NewFaultScore(30 * time.Second)
	for i := 0; i < 5; i++ {
		fs.RecordFailure()
	}
	if !fs.SuspectedFaulty(now) {
		t.Fatalf("expected suspected-faulty after 5 consecutive failures")
	}

	fs2 := NewFaultScore(30 * time.Second)
	fs2.RecordSuccess(now)
	fs2.lastMessage = now.Add(-31 * time.Second)
	if !fs2.SuspectedFaulty(now) {
		t.Fatalf("expected suspected-faulty after exceeding peer timeout")
	}
}

func TestPeerRequestBlockRoundTrip(t *testing.T) {
	magic := uint32(0x0B110907)
	var networkID [32]byte

	serverConn, clientConn, cleanup := dialPeerPair(t, magic)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	genesis := consensus.Genesis()
	server, err := NewPeer(serverConn, PeerRoleInbound, PeerConfig{
		Magic:    magic,
		OurHello: HelloPayload{NetworkID: networkID, ReplicaID: 1, CommitteeSize: 4},
	})
	if err != nil {
		t.Fatalf("NewPeer server: %v", err)
	}
	client, err := NewPeer(clientConn, PeerRoleOutbound, PeerConfig{
		Magic:    magic,
		OurHello: HelloPayload{NetworkID: networkID, ReplicaID: 0, CommitteeSize: 4},
	})
	if err != nil {
		t.Fatalf("NewPeer client: %v", err)
	}

	th := &testHandler{blocks: map[consensus.Hash]consensus.Block{genesis.Hash: genesis}}
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx, th) }()

	clientErr := make(chan error, 1)
	go func() { clientErr <- client.Run(ctx, &testHandler{blocks: map[consensus.Hash]consensus.Block{}}) }()

	time.Sleep(50 * time.Millisecond)

	block, found, err := client.RequestBlock(ctx, genesis.Hash, time.Second)
	if err != nil {
		t.Fatalf("RequestBlock: %v", err)
	}
	if !found || block.Hash != genesis.Hash {
		t.Fatalf("expected to find genesis block, got found=%v hash=%x", found, block.Hash)
	}

	var missing consensus.Hash
	missing[0] = 0xff
	_, found, err = client.RequestBlock(ctx, missing, time.Second)
	if err != nil {
		t.Fatalf("RequestBlock(missing): %v", err)
	}
	if found {
		t.Fatalf("expected not found for unknown hash")
	}

	cancel()
	<-serverErr
	<-clientErr
}
