package p2p

import (
	"testing"

	"hotstuff2.dev/replica/consensus"
)

func TestBlockRequestPayloadRoundtrip(t *testing.T) {
	var h consensus.Hash
	h[0] = 0xab
	b, err := EncodeBlockRequestPayload(BlockRequestPayload{Hash: h})
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBlockRequestPayload(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != h {
		t.Fatalf("hash mismatch: %x != %x", got.Hash, h)
	}
}

func TestBlockResponsePayloadRoundtripFound(t *testing.T) {
	block := consensus.Genesis()
	b, err := EncodeBlockResponsePayload(BlockResponsePayload{Found: true, Block: block})
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBlockResponsePayload(b)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Found || got.Block.Hash != block.Hash {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestBlockResponsePayloadRoundtripNotFound(t *testing.T) {
	b, err := EncodeBlockResponsePayload(BlockResponsePayload{Found: false})
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBlockResponsePayload(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Found {
		t.Fatalf("expected not-found")
	}
}
