package consensus

import "fmt"

// MaxTxPayloadBytes is the per-transaction payload ceiling.
const MaxTxPayloadBytes = 1 << 20 // 1 MiB

// MaxTransactionsPerBlock bounds proposal batch size.
const MaxTransactionsPerBlock = 50_000

// Transaction is the unit of client work carried in a block. Fee is a
// client-declared priority bid the pool uses to rank admission and batching;
// it carries no on-chain settlement semantics of its own.
// Identity is SHA-256(id || payload), computed on demand rather than cached
// on the struct so a Transaction stays a plain value type.
type Transaction struct {
	ID      string
	Payload []byte
	Fee     uint64
}

// Hash returns the transaction's content-addressed identity.
func (t Transaction) Hash() Hash {
	return sha256Sum([]byte(t.ID), t.Payload)
}

func ValidateTransaction(tx Transaction) error {
	if len(tx.Payload) == 0 {
		return cerr(ErrInvalidTransaction, "empty payload")
	}
	if len(tx.Payload) > MaxTxPayloadBytes {
		return cerr(ErrInvalidTransaction, "payload %d bytes exceeds max %d", len(tx.Payload), MaxTxPayloadBytes)
	}
	if tx.ID == "" {
		return cerr(ErrInvalidTransaction, "empty id")
	}
	return nil
}

// Block is the atomic unit the protocol orders and commits.
// ParentHash/Height/ProposerID/TimestampMs/Transactions are the signed
// content; Hash is derived and must always equal ComputeHash's output for
// a block to be considered well-formed (see block_parse.go / validate.go).
type Block struct {
	ParentHash   Hash
	Height       uint64
	ProposerID   uint64
	TimestampMs  uint64
	Transactions []Transaction
	Hash         Hash
}

// ComputeHash computes the content hash:
//   hash = SHA256(parent_hash || height || proposer_id || timestamp_ms || concat(tx.payload))
func (b Block) ComputeHash() Hash {
	var fixedBuf []byte
	fixedBuf = AppendU64le(fixedBuf, b.Height)
	fixedBuf = AppendU64le(fixedBuf, b.ProposerID)
	fixedBuf = AppendU64le(fixedBuf, b.TimestampMs)

	parts := make([][]byte, 0, 2+len(b.Transactions))
	parts = append(parts, b.ParentHash[:], fixedBuf)
	for _, tx := range b.Transactions {
		parts = append(parts, tx.Payload)
	}
	return sha256Sum(parts...)
}

// NewBlock fills in Hash via ComputeHash; callers should never construct a
// Block with Hash set by hand outside of this constructor and block_parse.go.
func NewBlock(parentHash Hash, height, proposerID, timestampMs uint64, txs []Transaction) Block {
	b := Block{
		ParentHash:   parentHash,
		Height:       height,
		ProposerID:   proposerID,
		TimestampMs:  timestampMs,
		Transactions: txs,
	}
	b.Hash = b.ComputeHash()
	return b
}

// ValidateBlockShape checks shape invariants independent of any
// parent/QC context: the hash commits to the declared fields and the payload
// sizes are within bounds. Parent linkage (height/parent_hash vs parent QC)
// is checked by the voting rule in replica.go, not here, since it requires
// knowledge of the parent QC the block is proposed alongside.
func ValidateBlockShape(b Block) error {
	if b.ComputeHash() != b.Hash {
		return cerr(ErrInvalidBlock, "hash does not commit to declared fields")
	}
	for i, tx := range b.Transactions {
		if err := ValidateTransaction(tx); err != nil {
			return fmt.Errorf("tx[%d]: %w", i, err)
		}
	}
	return nil
}
