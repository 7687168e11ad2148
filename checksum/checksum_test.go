package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

// abcDigest is the well-known SHA-256 of the ASCII string "abc".
const abcDigest = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestStreamKnownVector(t *testing.T) {
	s := New()
	s.Update([]byte("abc"))
	if got := s.HexDigest(); got != abcDigest {
		t.Errorf("HexDigest() = %s, want %s", got, abcDigest)
	}
}

func TestStreamIncrementalMatchesWholeInput(t *testing.T) {
	data := make([]byte, 300*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}

	whole := New()
	whole.Update(data)

	incremental := New()
	for off := 0; off < len(data); off += 4096 {
		end := off + 4096
		if end > len(data) {
			end = len(data)
		}
		incremental.Update(data[off:end])
	}

	if whole.HexDigest() != incremental.HexDigest() {
		t.Errorf("incremental digest %s != whole-input digest %s",
			incremental.HexDigest(), whole.HexDigest())
	}
}

func TestHexDigestDoesNotFinalize(t *testing.T) {
	s := New()
	s.Update([]byte("ab"))
	_ = s.HexDigest() // mid-stream peek must not disturb state
	s.Update([]byte("c"))
	if got := s.HexDigest(); got != abcDigest {
		t.Errorf("HexDigest() after mid-stream peek = %s, want %s", got, abcDigest)
	}
}

func TestStreamReset(t *testing.T) {
	s := New()
	s.Update([]byte("garbage"))
	s.Reset()
	s.Update([]byte("abc"))
	if got := s.HexDigest(); got != abcDigest {
		t.Errorf("HexDigest() after Reset = %s, want %s", got, abcDigest)
	}
}

func TestDigestOneShot(t *testing.T) {
	if got := Digest([]byte("abc")); got != abcDigest {
		t.Errorf("Digest() = %s, want %s", got, abcDigest)
	}
}

func TestFileDigest(t *testing.T) {
	data := make([]byte, 2*1024*1024+17) // force multiple read passes
	for i := range data {
		data[i] = byte(i * 7)
	}
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])

	got, size, err := FileDigest(path)
	if err != nil {
		t.Fatalf("FileDigest() error = %v", err)
	}
	if got != want {
		t.Errorf("FileDigest() = %s, want %s", got, want)
	}
	if size != int64(len(data)) {
		t.Errorf("FileDigest() size = %d, want %d", size, len(data))
	}
}

func TestFileDigestMissingFile(t *testing.T) {
	_, _, err := FileDigest(filepath.Join(t.TempDir(), "nope.bin"))
	if err == nil {
		t.Error("FileDigest() expected error for missing file")
	}
}
