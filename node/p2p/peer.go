package p2p

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"hotstuff2.dev/replica/consensus"
)

type PeerRole int

const (
	PeerRoleUnknown PeerRole = iota
	PeerRoleInbound
	PeerRoleOutbound
)

// PeerHandler receives decoded traffic from a Peer's Run loop. Implemented
// by the node package's orchestrator, which routes ConsensusMessage values
// into ReplicaState's single-consumer input channel.
type PeerHandler interface {
	OnConsensusMessage(peer *Peer, msg consensus.ConsensusMessage) error
	OnHeartbeat(peer *Peer, status NodeStatus)
	OnPeerDiscovery(peer *Peer, peers []PeerAddr)
	// LookupBlock answers an ancestor-catch-up request from a peer; it never
	// blocks on the network, only the local block store.
	LookupBlock(hash consensus.Hash) (consensus.Block, bool)
}

type PeerConfig struct {
	Magic       uint32
	OurHello    HelloPayload
	IdleTimeout time.Duration
	PeerTimeout time.Duration
}

type Peer struct {
	Conn   net.Conn
	Role   PeerRole
	Config PeerConfig

	PeerHello HelloPayload

	Ban      BanScore
	Fault    *FaultScore
	Dedup    *Dedup
	Retry    *RetryQueue
	sequence uint64

	blockRespMu sync.Mutex
	blockResp   chan BlockResponsePayload

	handshaked bool
}

func NewPeer(conn net.Conn, role PeerRole, cfg PeerConfig) (*Peer, error) {
	if conn == nil {
		return nil, fmt.Errorf("p2p: peer: nil conn")
	}
	return &Peer{
		Conn:   conn,
		Role:   role,
		Config: cfg,
		Fault:  NewFaultScore(cfg.PeerTimeout),
		Dedup:  NewDedup(),
		Retry:  NewRetryQueue(),
	}, nil
}

func (p *Peer) Handshake() error {
	res, err := Handshake(p.Conn, p.Config.Magic, p.Config.OurHello)
	if err != nil {
		return err
	}
	p.PeerHello = res.PeerHello
	p.handshaked = true
	return nil
}

// Send frames and writes a TransportMessage. If reliable, it is retained in
// the per-peer retry queue until an ACK with a matching id is observed.
func (p *Peer) Send(msg TransportMessage, reliable bool) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.From = p.Config.OurHello.ReplicaID
	p.sequence++
	msg.Sequence = p.sequence
	msg.RequiresAck = reliable
	msg.TimestampMs = uint64(time.Now().UnixMilli())

	body, err := EncodeTransportMessage(msg)
	if err != nil {
		return err
	}
	if err := WriteMessage(p.Conn, p.Config.Magic, CmdFrame, body); err != nil {
		p.Fault.RecordFailure()
		return err
	}
	p.Fault.RecordSuccess(time.Now())
	if reliable {
		p.Retry.Track(time.Now(), msg)
	}
	return nil
}

// RequestBlock asks this peer for hash and blocks until a matching response
// arrives, ctx is canceled, or timeout elapses. Only one request may be
// outstanding on a Peer at a time; the Run loop must already be running to
// deliver the response.
func (p *Peer) RequestBlock(ctx context.Context, hash consensus.Hash, timeout time.Duration) (consensus.Block, bool, error) {
	p.blockRespMu.Lock()
	if p.blockResp != nil {
		p.blockRespMu.Unlock()
		return consensus.Block{}, false, fmt.Errorf("p2p: peer: block request already in flight")
	}
	ch := make(chan BlockResponsePayload, 1)
	p.blockResp = ch
	p.blockRespMu.Unlock()
	defer func() {
		p.blockRespMu.Lock()
		p.blockResp = nil
		p.blockRespMu.Unlock()
	}()

	body, err := EncodeBlockRequestPayload(BlockRequestPayload{Hash: hash})
	if err != nil {
		return consensus.Block{}, false, err
	}
	if err := WriteMessage(p.Conn, p.Config.Magic, CmdBlockReq, body); err != nil {
		return consensus.Block{}, false, err
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp.Block, resp.Found, nil
	case <-timer.C:
		return consensus.Block{}, false, fmt.Errorf("p2p: peer: block request timed out")
	case <-ctx.Done():
		return consensus.Block{}, false, ctx.Err()
	}
}

func (p *Peer) sendAck(ackFor uuid.UUID) error {
	return p.Send(TransportMessage{Kind: PayloadAck, IsAck: true, HasAckFor: true, AckFor: ackFor}, false)
}

// Run performs the handshake, then dispatches frames to h until ctx is
// canceled or the connection fails. Reliable retransmission for this peer's
// outbound queue is driven by RunRetryLoop, started separately so tests can
// exercise Run without a live retry goroutine.
// Run dispatches frames to h until ctx is canceled or the connection fails.
// If the caller hasn't already called Handshake, Run performs it first.
// Reliable retransmission for this peer's outbound queue is driven by
// RunRetryLoop, started separately so tests can exercise Run without a live
// retry goroutine.
func (p *Peer) Run(ctx context.Context, h PeerHandler) error {
	if h == nil {
		return fmt.Errorf("p2p: peer: nil handler")
	}
	if !p.handshaked {
		if err := p.Handshake(); err != nil {
			return err
		}
	}

	if ctx != nil {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = p.Conn.Close()
			case <-done:
			}
		}()
		defer close(done)
	}

	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		if p.Config.IdleTimeout > 0 {
			_ = p.Conn.SetReadDeadline(time.Now().Add(p.Config.IdleTimeout))
		}
		msg, rerr := ReadMessage(p.Conn, p.Config.Magic)
		if rerr != nil {
			now := time.Now()
			p.Ban.Add(now, rerr.BanScoreDelta)
			p.Fault.RecordFailure()
			if p.Ban.ShouldBan(now) {
				return fmt.Errorf("p2p: peer: banned (score=%d): %w", p.Ban.Score(now), rerr.Err)
			}
			if rerr.Disconnect {
				return rerr
			}
			continue
		}

		now := time.Now()
		p.Fault.RecordReceived(now)
		if p.Ban.ShouldThrottle(now) {
			time.Sleep(ThrottleDelay)
		}

		switch msg.Command {
		case CmdPing:
			pp, err := DecodePingPayload(msg.Payload)
			if err != nil {
				p.Ban.Add(now, 10)
				continue
			}
			pong, _ := EncodePongPayload(PongPayload{Nonce: pp.Nonce})
			if err := WriteMessage(p.Conn, p.Config.Magic, CmdPong, pong); err != nil {
				return err
			}
		case CmdPong:
			continue
		case CmdBlockReq:
			req, err := DecodeBlockRequestPayload(msg.Payload)
			if err != nil {
				p.Ban.Add(now, 10)
				continue
			}
			block, found := h.LookupBlock(req.Hash)
			resp, _ := EncodeBlockResponsePayload(BlockResponsePayload{Found: found, Block: block})
			if err := WriteMessage(p.Conn, p.Config.Magic, CmdBlockResp, resp); err != nil {
				return err
			}
		case CmdBlockResp:
			bp, err := DecodeBlockResponsePayload(msg.Payload)
			if err != nil {
				p.Ban.Add(now, 10)
				continue
			}
			p.blockRespMu.Lock()
			ch := p.blockResp
			p.blockRespMu.Unlock()
			if ch != nil {
				select {
				case ch <- *bp:
				default:
				}
			}
		case CmdFrame:
			tm, err := DecodeTransportMessage(msg.Payload)
			if err != nil {
				p.Ban.Add(now, 10)
				continue
			}
			if err := p.dispatch(h, tm, now); err != nil {
				p.Ban.Add(now, 10)
				if p.Ban.ShouldBan(now) {
					return fmt.Errorf("p2p: peer: banned (score=%d): %w", p.Ban.Score(now), err)
				}
			}
		default:
			continue
		}
	}
}

func (p *Peer) dispatch(h PeerHandler, tm TransportMessage, now time.Time) error {
	if tm.IsAck {
		if tm.HasAckFor {
			p.Retry.Ack(tm.AckFor)
		}
		return nil
	}
	if !p.Dedup.Admit(now, tm.From, tm.ID) {
		return nil
	}
	if tm.RequiresAck {
		_ = p.sendAck(tm.ID)
	}
	switch tm.Kind {
	case PayloadConsensus:
		if tm.Consensus == nil {
			return fmt.Errorf("p2p: peer: consensus frame missing payload")
		}
		return h.OnConsensusMessage(p, *tm.Consensus)
	case PayloadHeartbeat:
		if tm.Heartbeat == nil {
			return fmt.Errorf("p2p: peer: heartbeat frame missing payload")
		}
		h.OnHeartbeat(p, *tm.Heartbeat)
		return nil
	case PayloadPeerDiscovery:
		h.OnPeerDiscovery(p, tm.PeerList)
		return nil
	default:
		return fmt.Errorf("p2p: peer: unexpected payload kind %d", tm.Kind)
	}
}

// RunRetryLoop resends anything in the outbound retry queue whose backoff
// has elapsed, until ctx is canceled. Run it as its own goroutine per peer.
func (p *Peer) RunRetryLoop(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, msg := range p.Retry.DueForRetry(now) {
				body, err := EncodeTransportMessage(msg)
				if err != nil {
					continue
				}
				_ = WriteMessage(p.Conn, p.Config.Magic, CmdFrame, body)
			}
		}
	}
}
