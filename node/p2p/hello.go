package p2p

import (
	"encoding/binary"
	"fmt"
)

const ProtocolVersionV1 = 1

// HelloPayload is the first message either side of a connection sends:
// enough for the peer to confirm it is talking to the right committee on
// the right protocol version before any consensus traffic flows.
type HelloPayload struct {
	ProtocolVersion uint32
	NetworkID       [32]byte
	ReplicaID       uint32
	CommitteeSize   uint32
}

func EncodeHelloPayload(v HelloPayload) ([]byte, error) {
	if v.ProtocolVersion != ProtocolVersionV1 {
		return nil, fmt.Errorf("p2p: hello: unsupported protocol_version")
	}
	out := make([]byte, 4+32+4+4)
	binary.LittleEndian.PutUint32(out[0:4], v.ProtocolVersion)
	copy(out[4:36], v.NetworkID[:])
	binary.LittleEndian.PutUint32(out[36:40], v.ReplicaID)
	binary.LittleEndian.PutUint32(out[40:44], v.CommitteeSize)
	return out, nil
}

func DecodeHelloPayload(b []byte) (*HelloPayload, error) {
	if len(b) != 4+32+4+4 {
		return nil, fmt.Errorf("p2p: hello: truncated")
	}
	var out HelloPayload
	out.ProtocolVersion = binary.LittleEndian.Uint32(b[0:4])
	copy(out.NetworkID[:], b[4:36])
	out.ReplicaID = binary.LittleEndian.Uint32(b[36:40])
	out.CommitteeSize = binary.LittleEndian.Uint32(b[40:44])
	return &out, nil
}
