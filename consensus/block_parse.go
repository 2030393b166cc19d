package consensus

// EncodeBlock serializes a Block to its canonical wire form:
//
//	parent_hash (32) | height (8 LE) | proposer_id (8 LE) | timestamp_ms (8 LE) |
//	tx_count (CompactSize) | tx... (each: id_len CompactSize, id bytes, payload_len CompactSize, payload bytes, fee CompactSize)
func EncodeBlock(b Block) []byte {
	out := make([]byte, 0, 32+24+9+len(b.Transactions)*32)
	out = append(out, b.ParentHash[:]...)
	out = AppendU64le(out, b.Height)
	out = AppendU64le(out, b.ProposerID)
	out = AppendU64le(out, b.TimestampMs)
	out = AppendCompactSize(out, uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		out = AppendCompactSize(out, uint64(len(tx.ID)))
		out = append(out, tx.ID...)
		out = AppendCompactSize(out, uint64(len(tx.Payload)))
		out = append(out, tx.Payload...)
		out = AppendCompactSize(out, tx.Fee)
	}
	return out
}

// DecodeBlock parses a block from its canonical wire form and recomputes its
// hash; it does not independently verify signatures or QC linkage.
func DecodeBlock(buf []byte) (Block, error) {
	c := newCursor(buf)

	parentHashBytes, err := c.readExact(32)
	if err != nil {
		return Block{}, cerr(ErrSerialization, "block: parent_hash: %v", err)
	}
	var b Block
	copy(b.ParentHash[:], parentHashBytes)

	if b.Height, err = c.readU64LE(); err != nil {
		return Block{}, cerr(ErrSerialization, "block: height: %v", err)
	}
	if b.ProposerID, err = c.readU64LE(); err != nil {
		return Block{}, cerr(ErrSerialization, "block: proposer_id: %v", err)
	}
	if b.TimestampMs, err = c.readU64LE(); err != nil {
		return Block{}, cerr(ErrSerialization, "block: timestamp_ms: %v", err)
	}

	txCount, err := c.readCompactSize()
	if err != nil {
		return Block{}, cerr(ErrSerialization, "block: tx_count: %v", err)
	}
	if txCount > MaxTransactionsPerBlock {
		return Block{}, cerr(ErrInvalidBlock, "tx_count %d exceeds max %d", txCount, MaxTransactionsPerBlock)
	}

	b.Transactions = make([]Transaction, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		idLen, err := c.readCompactSize()
		if err != nil {
			return Block{}, cerr(ErrSerialization, "block: tx[%d] id_len: %v", i, err)
		}
		idBytes, err := c.readExact(int(idLen))
		if err != nil {
			return Block{}, cerr(ErrSerialization, "block: tx[%d] id: %v", i, err)
		}
		payloadLen, err := c.readCompactSize()
		if err != nil {
			return Block{}, cerr(ErrSerialization, "block: tx[%d] payload_len: %v", i, err)
		}
		if payloadLen > MaxTxPayloadBytes {
			return Block{}, cerr(ErrInvalidTransaction, "tx[%d] payload %d exceeds max %d", i, payloadLen, MaxTxPayloadBytes)
		}
		payload, err := c.readExact(int(payloadLen))
		if err != nil {
			return Block{}, cerr(ErrSerialization, "block: tx[%d] payload: %v", i, err)
		}
		fee, err := c.readCompactSize()
		if err != nil {
			return Block{}, cerr(ErrSerialization, "block: tx[%d] fee: %v", i, err)
		}
		b.Transactions = append(b.Transactions, Transaction{ID: string(idBytes), Payload: append([]byte(nil), payload...), Fee: fee})
	}

	if c.remaining() != 0 {
		return Block{}, cerr(ErrSerialization, "block: %d trailing bytes", c.remaining())
	}

	b.Hash = b.ComputeHash()
	return b, nil
}
