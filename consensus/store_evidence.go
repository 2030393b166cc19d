package consensus

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ViewEvidence is the durable record a replica must consult before casting
// its first vote after a restart: the highest view it has already voted in
// (VotedView) and the highest QC it has observed (HighQC). Losing this to a
// crash and re-voting in an already-voted view is exactly the equivocation
// the safety rule in HandleProposal exists to prevent — evidence makes that
// guarantee survive a process restart, not just a single run.
type ViewEvidence struct {
	VotedView uint64
	HighQC    QuorumCert
}

var bucketViewEvidence = []byte("view_evidence")

var evidenceKey = []byte("current")

// EvidenceStore persists ViewEvidence in its own bbolt database, separate
// from the block store so the pacemaker/voting path never contends on the
// same file locks as block writes.
type EvidenceStore struct {
	db *bolt.DB
}

// OpenEvidenceStore opens (creating if absent) a bbolt database at path and
// ensures its bucket exists.
func OpenEvidenceStore(path string) (*EvidenceStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("consensus: open evidence store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketViewEvidence)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("consensus: create evidence bucket: %w", err)
	}
	return &EvidenceStore{db: db}, nil
}

func (s *EvidenceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the persisted evidence, or ok=false if this replica has
// never persisted any (a fresh node starting from genesis).
func (s *EvidenceStore) Load() (ViewEvidence, bool, error) {
	var out ViewEvidence
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketViewEvidence).Get(evidenceKey)
		if v == nil {
			return nil
		}
		decoded, err := decodeViewEvidence(v)
		if err != nil {
			return err
		}
		out = decoded
		ok = true
		return nil
	})
	return out, ok, err
}

// Save overwrites the persisted evidence. Callers must only advance
// VotedView monotonically; Save does not enforce this itself since the
// caller (ReplicaState) already holds the authoritative current state.
func (s *EvidenceStore) Save(ev ViewEvidence) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketViewEvidence).Put(evidenceKey, encodeViewEvidence(ev))
	})
}

// encodeViewEvidence lays out voted_view u64le | qc bytes (length-prefixed,
// since QuorumCert.EncodeBytes is variable-length once signature encoding
// changes).
func encodeViewEvidence(ev ViewEvidence) []byte {
	qcBytes := ev.HighQC.EncodeBytes()
	out := make([]byte, 0, 8+4+len(qcBytes))
	out = AppendU64le(out, ev.VotedView)
	out = AppendU32le(out, uint32(len(qcBytes)))
	out = append(out, qcBytes...)
	return out
}

func decodeViewEvidence(buf []byte) (ViewEvidence, error) {
	c := newCursor(buf)
	var ev ViewEvidence
	votedView, err := c.readU64LE()
	if err != nil {
		return ev, cerr(ErrSerialization, "evidence: voted_view: %v", err)
	}
	ev.VotedView = votedView

	qcLen, err := c.readU32LE()
	if err != nil {
		return ev, cerr(ErrSerialization, "evidence: qc_len: %v", err)
	}
	qcBytes, err := c.readExact(int(qcLen))
	if err != nil {
		return ev, cerr(ErrSerialization, "evidence: qc: %v", err)
	}
	qc, err := DecodeQC(qcBytes)
	if err != nil {
		return ev, err
	}
	ev.HighQC = qc
	return ev, nil
}
