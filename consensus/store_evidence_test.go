package consensus

import (
	"path/filepath"
	"testing"
)

func TestEvidenceStoreSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.db")
	s, err := OpenEvidenceStore(path)
	if err != nil {
		t.Fatalf("OpenEvidenceStore: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Load(); err != nil || ok {
		t.Fatalf("expected no evidence on fresh store, ok=%v err=%v", ok, err)
	}

	var hash Hash
	hash[0] = 0xaa
	want := ViewEvidence{VotedView: 7, HighQC: QuorumCert{View: 6, BlockHash: hash, SignerCount: 3}}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("Load after save: ok=%v err=%v", ok, err)
	}
	if got.VotedView != want.VotedView || got.HighQC.View != want.HighQC.View ||
		got.HighQC.BlockHash != want.HighQC.BlockHash || got.HighQC.SignerCount != want.HighQC.SignerCount {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, want)
	}
}

func TestEvidenceStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.db")
	s, err := OpenEvidenceStore(path)
	if err != nil {
		t.Fatalf("OpenEvidenceStore: %v", err)
	}
	if err := s.Save(ViewEvidence{VotedView: 42, HighQC: GenesisQC(Hash{})}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenEvidenceStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	ev, ok, err := reopened.Load()
	if err != nil || !ok {
		t.Fatalf("expected evidence to persist across reopen, ok=%v err=%v", ok, err)
	}
	if ev.VotedView != 42 {
		t.Fatalf("expected voted_view=42, got %d", ev.VotedView)
	}
}
