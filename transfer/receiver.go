package transfer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OgboiEhioma/goodluck-sharing/checksum"
	"github.com/OgboiEhioma/goodluck-sharing/dupstore"
	"github.com/OgboiEhioma/goodluck-sharing/limits"
	"github.com/OgboiEhioma/goodluck-sharing/wire"
)

// OverwriteDecision is the answer to "this file already exists".
type OverwriteDecision int

const (
	// Overwrite replaces the existing file.
	Overwrite OverwriteDecision = iota

	// Skip keeps the existing file. The incoming bytes are still drained
	// from the stream so later files stay aligned.
	Skip

	// CancelAll ends the session immediately.
	CancelAll
)

// OverwriteDecider resolves a name collision for the given file name. The
// first answer in a session is sticky: it applies to every later collision
// in the same session without asking again.
type OverwriteDecider func(name string) OverwriteDecision

// decisionTimeout bounds how long a session waits for an overwrite
// answer before defaulting to Skip.
const decisionTimeout = 15 * time.Second

// ServerConfig carries the receiver's collaborators and tuning knobs.
// Zero values select defaults; optional collaborators may be nil.
type ServerConfig struct {
	DownloadDir string
	ChunkSize   int
	ReadTimeout time.Duration
	MaxSessions int
	OnProgress  ProgressFunc
	History     HistorySink
	Dupes       *dupstore.Store
	Decider     OverwriteDecider
}

func (c *ServerConfig) applyDefaults() error {
	if c.DownloadDir == "" {
		return fmt.Errorf("download directory is required")
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = limits.DefaultChunkSize
	}
	if err := limits.ValidateChunkSize(c.ChunkSize); err != nil {
		return err
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultIOTimeout
	}
	if c.MaxSessions <= 0 || c.MaxSessions > limits.MaxInboundSessions {
		c.MaxSessions = limits.MaxInboundSessions
	}
	return nil
}

// Server accepts inbound transfer sessions and writes received files into
// the download directory. Each accepted connection is one session handled
// on its own goroutine, bounded by MaxSessions.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	sem      chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewServer creates a receiver with the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxSessions),
		stopChan: make(chan struct{}),
	}, nil
}

// Start binds the listener and begins accepting sessions. The download
// directory is created if missing.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := os.MkdirAll(s.cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind transfer listener: %w", err)
	}

	s.listener = listener
	s.running = true
	s.stopChan = make(chan struct{})

	s.wg.Add(1)
	go s.acceptLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"address":  listener.Addr().String(),
		"dir":      s.cfg.DownloadDir,
	}).Info("Transfer receiver started")

	return nil
}

// Stop closes the listener and waits for in-flight sessions to finish.
// Sessions cut off mid-stream record StatusInterrupted.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	logrus.WithField("function", "Stop").Info("Transfer receiver stopped")
}

// Addr returns the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning reports whether the receiver is accepting sessions.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// stopping reports whether shutdown has begun.
func (s *Server) stopping() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.stopping() {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"error":    err.Error(),
			}).Warn("Accept failed")
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"peer":     conn.RemoteAddr().String(),
				"limit":    s.cfg.MaxSessions,
			}).Warn("Rejected session, receiver at capacity")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleSession(c)
		}(conn)
	}
}

// handleSession runs one inbound session to completion and emits exactly
// one history record.
func (s *Server) handleSession(conn net.Conn) {
	started := time.Now()
	peer := hostOnly(conn.RemoteAddr().String())

	logrus.WithFields(logrus.Fields{
		"function": "handleSession",
		"peer":     peer,
	}).Info("Inbound transfer started")

	record := s.receive(conn, peer, started)
	record.DurationSeconds = time.Since(started).Seconds()
	appendHistory(s.cfg.History, record)

	logrus.WithFields(logrus.Fields{
		"function": "handleSession",
		"peer":     peer,
		"status":   record.Status,
		"verified": fmt.Sprintf("%d/%d", record.VerifiedCount, record.VerifiedTotal),
	}).Info("Inbound transfer finished")
}

// receive reads the manifest and then each declared file in order.
func (s *Server) receive(conn net.Conn, peer string, started time.Time) HistoryRecord {
	record := HistoryRecord{
		Time:      started,
		Direction: DirectionReceive,
		Peer:      peer,
	}

	reader := &deadlineReader{conn: conn, timeout: s.cfg.ReadTimeout}

	manifest, err := wire.ReadManifest(reader)
	if err != nil {
		record.Status = s.failureStatus()
		record.Error = err.Error()
		return record
	}
	record.FileCount = manifest.FileCount
	record.TotalBytes = manifest.TotalBytes()

	m := newMeter(manifest.TotalBytes())
	rep := newReporter(m, s.cfg.OnProgress)
	buffer := make([]byte, s.cfg.ChunkSize)
	var sticky *OverwriteDecision

	for _, f := range manifest.Files {
		name := sanitizeName(f.Rel)
		dest := filepath.Join(s.cfg.DownloadDir, name)

		if _, statErr := os.Stat(dest); statErr == nil {
			decision := s.decide(name, &sticky)
			switch decision {
			case CancelAll:
				record.Status = StatusCancelled
				return record
			case Skip:
				// Drain the declared bytes so the next file starts at the
				// right stream offset.
				if _, err := wire.CopyExactly(io.Discard, reader, f.Size); err != nil {
					record.Status = s.failureStatus()
					record.Error = err.Error()
					return record
				}
				m.add(f.Size)
				rep.report(name, false)
				continue
			}
		}

		record.VerifiedTotal++
		verified, err := s.receiveFile(reader, dest, f, buffer, m, rep)
		if err != nil {
			record.Status = s.failureStatus()
			record.Error = err.Error()
			return record
		}
		if verified {
			record.VerifiedCount++
			if s.cfg.Dupes != nil {
				s.cfg.Dupes.RecordTransfer(dest, strings.ToLower(f.SHA256), peer)
			}
		}
	}

	rep.report("", true)
	// A session that outlived the listener still delivered its bytes, but
	// the receiver was going down while it ran.
	if s.stopping() {
		record.Status = StatusInterrupted
	} else {
		record.Status = StatusSuccess
	}
	return record
}

// receiveFile streams one file's declared bytes to disk while hashing
// them, then compares digests. A mismatch keeps the file and logs a
// warning; only stream errors are terminal.
func (s *Server) receiveFile(reader io.Reader, dest string, f wire.FileDescriptor, buffer []byte, m *meter, rep *reporter) (bool, error) {
	out, err := os.Create(dest)
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	digest := checksum.New()
	remaining := f.Size

	for remaining > 0 {
		chunk := buffer
		if remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		n, readErr := reader.Read(chunk)
		if n > 0 {
			if _, err := out.Write(chunk[:n]); err != nil {
				return false, fmt.Errorf("failed to write %s: %w", dest, err)
			}
			digest.Update(chunk[:n])
			remaining -= int64(n)
			m.add(int64(n))
			rep.report(f.Rel, false)
		}
		if readErr != nil {
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				return false, fmt.Errorf("%w: %s short by %d bytes", wire.ErrTruncated, f.Rel, remaining)
			}
			return false, fmt.Errorf("failed to read %s: %w", f.Rel, readErr)
		}
	}

	if !strings.EqualFold(digest.HexDigest(), f.SHA256) {
		logrus.WithFields(logrus.Fields{
			"function": "receiveFile",
			"file":     f.Rel,
			"declared": f.SHA256,
			"computed": digest.HexDigest(),
		}).Warn("Hash verification failed, keeping file")
		return false, nil
	}
	return true, nil
}

// decide resolves a name collision, consulting the decider once per
// session and reusing its answer afterwards. No decider, or no answer
// within the timeout, means Skip.
func (s *Server) decide(name string, sticky **OverwriteDecision) OverwriteDecision {
	if *sticky != nil {
		return **sticky
	}

	decision := Skip
	if s.cfg.Decider != nil {
		answer := make(chan OverwriteDecision, 1)
		go func() { answer <- s.cfg.Decider(name) }()
		select {
		case decision = <-answer:
		case <-time.After(decisionTimeout):
			logrus.WithFields(logrus.Fields{
				"function": "decide",
				"file":     name,
			}).Warn("Overwrite prompt timed out, skipping file")
		}
	}

	*sticky = &decision
	return decision
}

// failureStatus distinguishes a receiver shutdown from a peer failure.
func (s *Server) failureStatus() Status {
	if s.stopping() {
		return StatusInterrupted
	}
	return StatusFailed
}

// sanitizeName reduces an incoming file name to a safe base name. Names
// that collapse to nothing get a placeholder.
func sanitizeName(rel string) string {
	name := filepath.Base(filepath.Clean(strings.ReplaceAll(rel, "\\", "/")))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "unnamed"
	}
	return name
}

// deadlineReader arms a fresh read deadline before every read so a
// stalled peer cannot hold a session open forever.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	n, err := r.conn.Read(p)
	if err != nil && isClosedConn(err) {
		return n, io.EOF
	}
	return n, err
}

// isClosedConn matches the errors a peer disconnect surfaces as.
func isClosedConn(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "connection reset")
}
