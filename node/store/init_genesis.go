package store

import (
	"fmt"

	"hotstuff2.dev/replica/consensus"
)

// InitGenesis initializes an empty chain DB with the genesis block and
// writes the manifest marking it as both tip and last-applied. Caller must
// ensure networkIDHex matches the deployment's committee configuration;
// InitGenesis itself does not validate committee membership.
func (d *DB) InitGenesis(networkIDHex string) error {
	if d == nil {
		return fmt.Errorf("db: nil")
	}
	if d.manifest != nil {
		return fmt.Errorf("chain already initialized (manifest exists)")
	}

	genesis := consensus.Genesis()
	blockBytes := consensus.EncodeBlock(genesis)
	index := BlockIndexEntry{Height: 0, ParentHash: genesis.ParentHash}

	if err := d.PutBlock(genesis.Hash, blockBytes, index); err != nil {
		return err
	}

	m := &Manifest{
		SchemaVersion: SchemaVersionV1,
		NetworkIDHex:  networkIDHex,

		TipHashHex: hex32(genesis.Hash),
		TipHeight:  0,

		LastAppliedBlockHashHex: hex32(genesis.Hash),
		LastAppliedHeight:       0,
	}
	return d.SetManifest(m)
}
