package p2p

import (
	"encoding/binary"
	"fmt"
)

const MaxPeerListEntries = 4096

// PeerAddr is one entry of a PeerDiscovery gossip payload: another
// committee member's replica id and dial address.
type PeerAddr struct {
	ReplicaID uint32
	Addr      string
}

func EncodePeerList(peers []PeerAddr) ([]byte, error) {
	if len(peers) > MaxPeerListEntries {
		return nil, fmt.Errorf("p2p: peer_list: too many entries")
	}
	out := encodeCompactSize(uint64(len(peers)))
	var idBuf [4]byte
	for _, p := range peers {
		if len(p.Addr) > 255 {
			return nil, fmt.Errorf("p2p: peer_list: addr too long")
		}
		binary.LittleEndian.PutUint32(idBuf[:], p.ReplicaID)
		out = append(out, idBuf[:]...)
		out = append(out, encodeCompactSize(uint64(len(p.Addr)))...)
		out = append(out, p.Addr...)
	}
	return out, nil
}

func DecodePeerList(b []byte) ([]PeerAddr, error) {
	countU64, used, err := readCompactSize(b)
	if err != nil {
		return nil, err
	}
	if countU64 > MaxPeerListEntries {
		return nil, fmt.Errorf("p2p: peer_list: count exceeds MaxPeerListEntries")
	}
	off := used
	out := make([]PeerAddr, 0, countU64)
	for i := uint64(0); i < countU64; i++ {
		if len(b) < off+4 {
			return nil, fmt.Errorf("p2p: peer_list: truncated replica_id")
		}
		id := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		addrLenU64, used, err := readCompactSize(b[off:])
		if err != nil {
			return nil, err
		}
		off += used
		addrLen := int(addrLenU64)
		if len(b) < off+addrLen {
			return nil, fmt.Errorf("p2p: peer_list: truncated addr")
		}
		out = append(out, PeerAddr{ReplicaID: id, Addr: string(b[off : off+addrLen])})
		off += addrLen
	}
	if off != len(b) {
		return nil, fmt.Errorf("p2p: peer_list: trailing bytes")
	}
	return out, nil
}
