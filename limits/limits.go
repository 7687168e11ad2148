// Package limits provides centralized size limits for the Goodluck Sharing
// wire protocol. This ensures consistent validation across different
// components of the engine.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxMetadataSize is the ceiling for the serialized transfer manifest
	// (10 MiB). Peers declaring a larger metadata block are rejected before
	// any allocation to prevent memory exhaustion from a corrupt or
	// malicious sender.
	MaxMetadataSize = 10 * 1024 * 1024

	// MaxChunkSize is the largest chunk a session may move in one I/O
	// operation (4 MiB).
	MaxChunkSize = 4 * 1024 * 1024

	// MinChunkSize is the smallest permitted chunk size (4 KiB). Smaller
	// chunks waste syscalls without improving pause/cancel latency.
	MinChunkSize = 4 * 1024

	// DefaultChunkSize is the chunk size used when the collaborator does
	// not configure one (128 KiB).
	DefaultChunkSize = 128 * 1024

	// MaxDatagramSize is the receive buffer for discovery datagrams.
	// Announcements larger than this are dropped during parsing.
	MaxDatagramSize = 4096

	// MaxFileNameLength is the maximum allowed file name length in bytes.
	// The value (255) matches typical filesystem limits.
	MaxFileNameLength = 255

	// MaxManifestFiles is the maximum number of files a single manifest
	// may declare.
	MaxManifestFiles = 65536

	// MaxConcurrentTransfers is the upper bound on the outbound worker
	// pool size.
	MaxConcurrentTransfers = 16

	// MaxInboundSessions caps concurrently served inbound connections.
	MaxInboundSessions = 32
)

var (
	// ErrMetadataTooLarge indicates a declared manifest exceeds MaxMetadataSize.
	ErrMetadataTooLarge = errors.New("metadata too large")

	// ErrChunkSizeOutOfRange indicates a configured chunk size outside
	// [MinChunkSize, MaxChunkSize].
	ErrChunkSizeOutOfRange = errors.New("chunk size out of range")

	// ErrConcurrencyOutOfRange indicates a worker pool size outside
	// [1, MaxConcurrentTransfers].
	ErrConcurrencyOutOfRange = errors.New("concurrency out of range")

	// ErrNameTooLong indicates a file name exceeds MaxFileNameLength.
	ErrNameTooLong = errors.New("file name too long")
)

// ValidateMetadataSize validates a declared manifest byte count against
// MaxMetadataSize. Returns an error with context including the actual and
// maximum sizes.
func ValidateMetadataSize(size int) error {
	if size < 0 || size > MaxMetadataSize {
		return fmt.Errorf("%w: declared size %d exceeds limit %d", ErrMetadataTooLarge, size, MaxMetadataSize)
	}
	return nil
}

// ValidateChunkSize validates a configured chunk size against the permitted
// range. Returns an error with context if the size is out of range.
func ValidateChunkSize(size int) error {
	if size < MinChunkSize || size > MaxChunkSize {
		return fmt.Errorf("%w: size %d outside [%d, %d]", ErrChunkSizeOutOfRange, size, MinChunkSize, MaxChunkSize)
	}
	return nil
}

// ValidateConcurrency validates an outbound worker pool size.
// Returns an error with context if the value is out of range.
func ValidateConcurrency(workers int) error {
	if workers < 1 || workers > MaxConcurrentTransfers {
		return fmt.Errorf("%w: %d outside [1, %d]", ErrConcurrencyOutOfRange, workers, MaxConcurrentTransfers)
	}
	return nil
}

// ValidateFileName validates a file name length against MaxFileNameLength.
// Returns an error with context if the name exceeds the limit.
func ValidateFileName(name string) error {
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrNameTooLong, len(name), MaxFileNameLength)
	}
	return nil
}
