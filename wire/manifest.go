// Package wire implements the transfer metadata framing: a 4-byte
// big-endian length prefix followed by a UTF-8 JSON manifest, followed by
// the raw bytes of each listed file in order. File boundaries are derived
// purely from the declared sizes, so both ends must agree on manifest
// order.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/OgboiEhioma/goodluck-sharing/limits"
)

var (
	// ErrInvalidManifest indicates a manifest that fails schema validation.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrTruncated indicates the connection closed before the declared
	// byte count arrived. Truncation is terminal for the session.
	ErrTruncated = errors.New("stream truncated")
)

// FileDescriptor describes one file in a transfer manifest. The JSON field
// names are wire-significant and must not change.
type FileDescriptor struct {
	Rel    string `json:"rel"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest is the metadata header sent before any file bytes. Files are
// streamed back-to-back in the listed order.
type Manifest struct {
	FileCount int              `json:"file_count"`
	Files     []FileDescriptor `json:"files"`
}

// NewManifest builds a manifest from an ordered list of descriptors.
func NewManifest(files []FileDescriptor) *Manifest {
	return &Manifest{
		FileCount: len(files),
		Files:     files,
	}
}

// TotalBytes returns the sum of all declared file sizes.
func (m *Manifest) TotalBytes() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// Validate checks the manifest against the wire schema: the declared count
// must match the file list, and every descriptor needs a non-empty name
// within the length limit, a non-negative size, and a 64-digit hex digest.
func (m *Manifest) Validate() error {
	if m.FileCount != len(m.Files) {
		return fmt.Errorf("%w: file_count %d does not match %d listed files",
			ErrInvalidManifest, m.FileCount, len(m.Files))
	}
	if len(m.Files) > limits.MaxManifestFiles {
		return fmt.Errorf("%w: %d files exceeds limit %d",
			ErrInvalidManifest, len(m.Files), limits.MaxManifestFiles)
	}
	for i, f := range m.Files {
		if f.Rel == "" {
			return fmt.Errorf("%w: file %d has empty name", ErrInvalidManifest, i)
		}
		if err := limits.ValidateFileName(f.Rel); err != nil {
			return fmt.Errorf("%w: file %d: %v", ErrInvalidManifest, i, err)
		}
		if f.Size < 0 {
			return fmt.Errorf("%w: file %d declares negative size %d", ErrInvalidManifest, i, f.Size)
		}
		if !isHexDigest(f.SHA256) {
			return fmt.Errorf("%w: file %d has malformed sha256 %q", ErrInvalidManifest, i, f.SHA256)
		}
	}
	return nil
}

// isHexDigest reports whether s is a 64-character hex string.
func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Encode serializes the manifest to its JSON wire form.
func (m *Manifest) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := limits.ValidateMetadataSize(len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteManifest writes the length-prefixed manifest header to w.
func WriteManifest(w io.Writer, m *Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(data)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("failed to write manifest length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "WriteManifest",
		"file_count":  m.FileCount,
		"total_bytes": m.TotalBytes(),
		"header_len":  len(data),
	}).Debug("Manifest header written")

	return nil
}

// ReadManifest reads and validates a length-prefixed manifest header from
// r. It blocks until the full declared byte count arrives; an early close
// yields ErrTruncated.
func ReadManifest(r io.Reader) (*Manifest, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, readError("manifest length", err)
	}

	length := binary.BigEndian.Uint32(prefix)
	if err := limits.ValidateMetadataSize(int(length)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "ReadManifest",
			"declared_len": length,
		}).Warn("Rejected oversized manifest header")
		return nil, err
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, readError("manifest body", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "ReadManifest",
		"file_count":  m.FileCount,
		"total_bytes": m.TotalBytes(),
	}).Debug("Manifest header decoded")

	return &m, nil
}

// CopyExactly moves exactly n bytes from r to w, returning the count
// actually copied. An early EOF is reported as ErrTruncated so sessions
// can distinguish peer disconnects from local write failures.
func CopyExactly(w io.Writer, r io.Reader, n int64) (int64, error) {
	copied, err := io.CopyN(w, r, n)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return copied, fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, copied, n)
	}
	if err != nil {
		return copied, err
	}
	return copied, nil
}

// readError normalizes io errors from framed reads: any early EOF becomes
// ErrTruncated.
func readError(what string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF || strings.Contains(err.Error(), "connection reset") {
		return fmt.Errorf("%w: reading %s: %v", ErrTruncated, what, err)
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}
