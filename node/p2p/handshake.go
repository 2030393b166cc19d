package p2p

import (
	"fmt"
	"net"
	"time"
)

const HandshakeTimeout = 10 * time.Second

type HandshakeResult struct {
	PeerHello HelloPayload
}

// Handshake performs the minimum replica-to-replica handshake: exchange
// HelloPayload, confirm the network id matches, then exchange helloack.
// The caller is responsible for closing conn.
func Handshake(conn net.Conn, magic uint32, ourHello HelloPayload) (*HandshakeResult, error) {
	if conn == nil {
		return nil, fmt.Errorf("p2p: handshake: nil conn")
	}
	ourHello.ProtocolVersion = ProtocolVersionV1

	payload, err := EncodeHelloPayload(ourHello)
	if err != nil {
		return nil, err
	}
	if err := WriteMessage(conn, magic, CmdHello, payload); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))

	var peerHello *HelloPayload
	for peerHello == nil {
		msg, rerr := ReadMessage(conn, magic)
		if rerr != nil {
			if !rerr.Disconnect {
				continue
			}
			return nil, rerr
		}
		switch msg.Command {
		case CmdHello:
			h, err := DecodeHelloPayload(msg.Payload)
			if err != nil {
				return nil, err
			}
			if h.NetworkID != ourHello.NetworkID {
				rp, _ := EncodeRejectPayload(RejectPayload{Message: CmdHello, Code: RejectNetworkIDMismatch, Reason: "network_id mismatch"})
				_ = WriteMessage(conn, magic, CmdReject, rp)
				return nil, fmt.Errorf("p2p: handshake: network_id mismatch")
			}
			if h.ProtocolVersion != ProtocolVersionV1 {
				return nil, fmt.Errorf("p2p: handshake: unsupported protocol_version")
			}
			peerHello = h
		case CmdReject:
			rp, err := DecodeRejectPayload(msg.Payload)
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("p2p: handshake: reject(%s) code=0x%02x reason=%q", rp.Message, rp.Code, rp.Reason)
		default:
			continue
		}
	}

	if err := WriteMessage(conn, magic, CmdHelloAck, nil); err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))

	for {
		msg, rerr := ReadMessage(conn, magic)
		if rerr != nil {
			if !rerr.Disconnect {
				continue
			}
			return nil, rerr
		}
		switch msg.Command {
		case CmdHelloAck:
			if len(msg.Payload) != 0 {
				return nil, fmt.Errorf("p2p: handshake: helloack payload must be empty")
			}
			_ = conn.SetReadDeadline(time.Time{})
			return &HandshakeResult{PeerHello: *peerHello}, nil
		case CmdHello:
			return nil, fmt.Errorf("p2p: handshake: duplicate hello")
		case CmdReject:
			rp, err := DecodeRejectPayload(msg.Payload)
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("p2p: handshake: reject(%s) code=0x%02x reason=%q", rp.Message, rp.Code, rp.Reason)
		default:
			continue
		}
	}
}
