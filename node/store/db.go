package store

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlocks = []byte("blocks_by_hash")
	bucketIndex  = []byte("block_index_by_hash")
)

// BlockIndexEntry is the lightweight per-block bookkeeping kept alongside
// the full encoded block: height and parent are looked up far more often
// (ancestor walks in consensus.Extends) than the full block body is.
type BlockIndexEntry struct {
	Height     uint64
	ParentHash [32]byte
}

// DB is the bbolt-backed, content-addressed block store for one chain
// instance: block_hash -> encoded block, plus the height/parent index and
// the manifest tracking the current tip and last-applied height.
type DB struct {
	chainDir string
	db       *bolt.DB
	manifest *Manifest
}

func Open(datadir string, networkIDHex string) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if networkIDHex == "" {
		return nil, fmt.Errorf("network_id_hex required")
	}

	chainDir := ChainDir(datadir, networkIDHex)
	if err := ensureDir(chainDir); err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Join(chainDir, "db")); err != nil {
		return nil, err
	}

	path := filepath.Join(chainDir, "db", "kv.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	d := &DB{chainDir: chainDir, db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	m, err := readManifest(chainDir)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil // uninitialized chain; caller must InitGenesis.
		}
		_ = bdb.Close()
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if m.SchemaVersion > SchemaVersionV1 {
		_ = bdb.Close()
		return nil, fmt.Errorf("manifest schema_version %d > supported %d", m.SchemaVersion, SchemaVersionV1)
	}
	d.manifest = m
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) ChainDir() string { return d.chainDir }

func (d *DB) Manifest() *Manifest {
	if d == nil {
		return nil
	}
	return d.manifest
}

func (d *DB) SetManifest(m *Manifest) error {
	if d == nil {
		return fmt.Errorf("db: nil")
	}
	if err := writeManifestAtomic(d.chainDir, m); err != nil {
		return err
	}
	d.manifest = m
	return nil
}

// PutBlock persists a block's wire encoding and height/parent index
// together in one bbolt transaction.
func (d *DB) PutBlock(hash [32]byte, blockBytes []byte, index BlockIndexEntry) error {
	idxBytes := encodeIndexEntry(index)
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlocks).Put(hash[:], blockBytes); err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Put(hash[:], idxBytes)
	})
}

func (d *DB) GetBlockBytes(hash [32]byte) ([]byte, bool, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(hash[:])
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

func (d *DB) GetIndex(hash [32]byte) (BlockIndexEntry, bool, error) {
	var out BlockIndexEntry
	var ok bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndex).Get(hash[:])
		if v == nil {
			return nil
		}
		e, err := decodeIndexEntry(v)
		if err != nil {
			return err
		}
		out = e
		ok = true
		return nil
	})
	return out, ok, err
}

// encodeIndexEntry lays out height u64le | parent_hash 32.
func encodeIndexEntry(e BlockIndexEntry) []byte {
	out := make([]byte, 8+32)
	binary.LittleEndian.PutUint64(out[0:8], e.Height)
	copy(out[8:40], e.ParentHash[:])
	return out
}

func decodeIndexEntry(b []byte) (BlockIndexEntry, error) {
	if len(b) != 8+32 {
		return BlockIndexEntry{}, fmt.Errorf("index: expected 40 bytes, got %d", len(b))
	}
	var e BlockIndexEntry
	e.Height = binary.LittleEndian.Uint64(b[0:8])
	copy(e.ParentHash[:], b[8:40])
	return e, nil
}

func hex32(b32 [32]byte) string {
	return hex.EncodeToString(b32[:])
}
