package p2p

import (
	"fmt"

	"hotstuff2.dev/replica/consensus"
)

// BlockRequestPayload asks a peer for the single block identified by Hash,
// used by the sync engine to walk backward over a gap left by a missed
// proposal or a reconnect.
type BlockRequestPayload struct {
	Hash consensus.Hash
}

func EncodeBlockRequestPayload(p BlockRequestPayload) ([]byte, error) {
	return p.Hash[:], nil
}

func DecodeBlockRequestPayload(b []byte) (*BlockRequestPayload, error) {
	if len(b) != len(consensus.Hash{}) {
		return nil, fmt.Errorf("p2p: blockreq: invalid payload length")
	}
	var out BlockRequestPayload
	copy(out.Hash[:], b)
	return &out, nil
}

// BlockResponsePayload answers a BlockRequestPayload. Found is false when
// the responder doesn't have the requested block either, so the requester
// can try a different peer instead of waiting out a timeout.
type BlockResponsePayload struct {
	Found bool
	Block consensus.Block
}

func EncodeBlockResponsePayload(p BlockResponsePayload) ([]byte, error) {
	if !p.Found {
		return []byte{0}, nil
	}
	out := make([]byte, 0, 1+64)
	out = append(out, 1)
	out = append(out, consensus.EncodeBlock(p.Block)...)
	return out, nil
}

func DecodeBlockResponsePayload(b []byte) (*BlockResponsePayload, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("p2p: blockresp: empty payload")
	}
	if b[0] == 0 {
		return &BlockResponsePayload{Found: false}, nil
	}
	block, err := consensus.DecodeBlock(b[1:])
	if err != nil {
		return nil, fmt.Errorf("p2p: blockresp: %w", err)
	}
	return &BlockResponsePayload{Found: true, Block: block}, nil
}
