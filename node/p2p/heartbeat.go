package p2p

import (
	"encoding/binary"
	"fmt"
)

// NodeStatus is the heartbeat body: liveness and view-progress signal for
// the pacemaker's synchrony estimate and the health endpoint.
type NodeStatus struct {
	View      uint64
	Height    uint64
	IsLeader  bool
	PeerCount uint32
}

func EncodeNodeStatus(s NodeStatus) []byte {
	out := make([]byte, 8+8+1+4)
	binary.LittleEndian.PutUint64(out[0:8], s.View)
	binary.LittleEndian.PutUint64(out[8:16], s.Height)
	if s.IsLeader {
		out[16] = 1
	}
	binary.LittleEndian.PutUint32(out[17:21], s.PeerCount)
	return out
}

func DecodeNodeStatus(b []byte) (NodeStatus, error) {
	var s NodeStatus
	if len(b) != 8+8+1+4 {
		return s, fmt.Errorf("p2p: node_status: wrong length %d", len(b))
	}
	s.View = binary.LittleEndian.Uint64(b[0:8])
	s.Height = binary.LittleEndian.Uint64(b[8:16])
	s.IsLeader = b[16] != 0
	s.PeerCount = binary.LittleEndian.Uint32(b[17:21])
	return s, nil
}
