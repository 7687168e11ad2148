// Package checksum provides incremental SHA-256 digesting for file
// transfers. A Stream accumulates bytes as they move through a session so
// the receive side can verify integrity without re-reading completed data,
// and FileDigest performs the whole-file pass a sender needs before
// building a manifest.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// readBufferSize is the buffer used by FileDigest for the whole-file pass.
const readBufferSize = 1024 * 1024

// Stream accumulates bytes into a running SHA-256 state.
// A Stream is not safe for concurrent use; sessions create one instance
// per file per direction.
type Stream struct {
	h hash.Hash
}

// New returns a Stream with an empty digest state.
func New() *Stream {
	return &Stream{h: sha256.New()}
}

// Update feeds a chunk of bytes into the running digest.
func (s *Stream) Update(chunk []byte) {
	// hash.Hash.Write never returns an error.
	s.h.Write(chunk)
}

// HexDigest returns the lowercase hex digest of all bytes fed so far.
// The internal state is not finalized; Update may be called afterward.
func (s *Stream) HexDigest() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

// Reset clears the digest state for reuse.
func (s *Stream) Reset() {
	s.h.Reset()
}

// Digest returns the lowercase hex SHA-256 digest of data in one shot.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileDigest computes the SHA-256 digest of the file at path with a chunked
// read pass, returning the lowercase hex digest and the byte count hashed.
func FileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	s := New()
	buf := make([]byte, readBufferSize)
	var total int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			s.Update(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("failed to read file for hashing: %w", err)
		}
	}

	return s.HexDigest(), total, nil
}
