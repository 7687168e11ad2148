package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OgboiEhioma/goodluck-sharing/checksum"
	"github.com/OgboiEhioma/goodluck-sharing/dupstore"
	"github.com/OgboiEhioma/goodluck-sharing/limits"
	"github.com/OgboiEhioma/goodluck-sharing/wire"
)

// Phase names the stage an outbound session is in. Phases advance
// monotonically; a session never returns to an earlier phase.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseSendingMetadata
	PhaseTransferring
	PhaseVerifying
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseSendingMetadata:
		return "sending_metadata"
	case PhaseTransferring:
		return "transferring"
	case PhaseVerifying:
		return "verifying"
	default:
		return "unknown"
	}
}

const (
	// DefaultDialTimeout bounds the TCP connect to a peer.
	DefaultDialTimeout = 8 * time.Second

	// DefaultIOTimeout bounds each chunk read or write. A healthy LAN
	// peer always makes progress well within this window.
	DefaultIOTimeout = 30 * time.Second
)

// SendConfig carries the collaborators and tuning knobs of an outbound
// session. Zero values select defaults; optional collaborators may be nil.
type SendConfig struct {
	ChunkSize    int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	OnProgress   ProgressFunc
	OnPhase      func(Phase)
	History      HistorySink
	Dupes        *dupstore.Store
	Signal       *Signal
}

func (c *SendConfig) applyDefaults() error {
	if c.ChunkSize == 0 {
		c.ChunkSize = limits.DefaultChunkSize
	}
	if err := limits.ValidateChunkSize(c.ChunkSize); err != nil {
		return err
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultIOTimeout
	}
	return nil
}

// SendResult summarizes a completed outbound session.
type SendResult struct {
	Manifest  *wire.Manifest
	BytesSent int64
	Duration  time.Duration
}

// SendFiles hashes the given paths, connects to addr, and streams the
// manifest header followed by every file's raw bytes in manifest order.
// The signal is polled between chunks, so pause holds the stream open and
// cancel ends it with ErrCancelled. Exactly one history record is emitted
// whatever the outcome.
func SendFiles(ctx context.Context, addr string, paths []string, cfg SendConfig) (result *SendResult, err error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to send")
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	started := time.Now()
	peer := hostOnly(addr)
	var manifest *wire.Manifest
	var bytesSent int64

	defer func() {
		record := HistoryRecord{
			Time:            started,
			Direction:       DirectionSend,
			Peer:            peer,
			FileCount:       len(paths),
			DurationSeconds: time.Since(started).Seconds(),
			Status:          sendStatus(err),
		}
		if manifest != nil {
			record.TotalBytes = manifest.TotalBytes()
		}
		if err != nil {
			record.Error = err.Error()
		}
		appendHistory(cfg.History, record)
	}()

	setPhase(cfg.OnPhase, PhaseConnecting)

	manifest, err = BuildManifest(ctx, paths, cfg.Signal)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", addr, cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	logrus.WithFields(logrus.Fields{
		"function":    "SendFiles",
		"peer":        addr,
		"file_count":  manifest.FileCount,
		"total_bytes": manifest.TotalBytes(),
	}).Info("Outbound transfer started")

	setPhase(cfg.OnPhase, PhaseSendingMetadata)
	conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
	if err = wire.WriteManifest(conn, manifest); err != nil {
		return nil, err
	}

	setPhase(cfg.OnPhase, PhaseTransferring)
	m := newMeter(manifest.TotalBytes())
	rep := newReporter(m, cfg.OnProgress)
	buffer := make([]byte, cfg.ChunkSize)

	for i, path := range paths {
		rel := manifest.Files[i].Rel
		if err = sendFile(ctx, conn, path, rel, buffer, &cfg, m, rep); err != nil {
			return nil, err
		}
		if cfg.Dupes != nil {
			cfg.Dupes.RecordTransfer(path, manifest.Files[i].SHA256, peer)
		}
	}

	setPhase(cfg.OnPhase, PhaseVerifying)
	bytesSent = m.snapshot("").BytesDone
	rep.report("", true)

	logrus.WithFields(logrus.Fields{
		"function":   "SendFiles",
		"peer":       addr,
		"bytes_sent": bytesSent,
		"duration":   time.Since(started).String(),
	}).Info("Outbound transfer complete")

	return &SendResult{
		Manifest:  manifest,
		BytesSent: bytesSent,
		Duration:  time.Since(started),
	}, nil
}

// BuildManifest hashes every path and assembles the wire manifest. Names
// are reduced to their base form; the receiver reconstructs no directory
// structure. The signal is checked between files so a long hashing pass
// stays cancellable.
func BuildManifest(ctx context.Context, paths []string, sig *Signal) (*wire.Manifest, error) {
	files := make([]wire.FileDescriptor, 0, len(paths))
	for _, path := range paths {
		if sig != nil {
			if err := sig.Checkpoint(ctx); err != nil {
				return nil, err
			}
		}
		digest, size, err := checksum.FileDigest(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", path, err)
		}
		files = append(files, wire.FileDescriptor{
			Rel:    filepath.Base(path),
			Size:   size,
			SHA256: digest,
		})
	}

	m := wire.NewManifest(files)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// sendFile streams one file chunk by chunk, honoring the pause/cancel
// signal at each boundary.
func sendFile(ctx context.Context, conn net.Conn, path, rel string, buffer []byte, cfg *SendConfig, m *meter, rep *reporter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	for {
		if cfg.Signal != nil {
			if err := cfg.Signal.Checkpoint(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := f.Read(buffer)
		if n > 0 {
			conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if _, err := conn.Write(buffer[:n]); err != nil {
				return fmt.Errorf("failed to write chunk of %s: %w", rel, err)
			}
			m.add(int64(n))
			rep.report(rel, false)
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read %s: %w", path, readErr)
		}
	}
}

// sendStatus maps a session error to its history status.
func sendStatus(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

func setPhase(fn func(Phase), p Phase) {
	if fn != nil {
		fn(p)
	}
}

// hostOnly strips a port suffix when present.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
