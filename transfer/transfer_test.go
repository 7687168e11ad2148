package transfer

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OgboiEhioma/goodluck-sharing/checksum"
	"github.com/OgboiEhioma/goodluck-sharing/dupstore"
	"github.com/OgboiEhioma/goodluck-sharing/limits"
	"github.com/OgboiEhioma/goodluck-sharing/wire"
)

// writeTestFile creates a file with the given content and returns its path.
func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// testReceiver bundles a running server with its capture channels.
type testReceiver struct {
	server  *Server
	addr    string
	dir     string
	records chan HistoryRecord
}

// startReceiver runs a server on an ephemeral loopback port. The mutate
// hook customizes the config before startup.
func startReceiver(t *testing.T, mutate func(*ServerConfig)) *testReceiver {
	t.Helper()

	r := &testReceiver{
		dir:     t.TempDir(),
		records: make(chan HistoryRecord, 4),
	}
	cfg := ServerConfig{
		DownloadDir: r.dir,
		History: HistorySinkFunc(func(rec HistoryRecord) {
			r.records <- rec
		}),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	server, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, server.Start("127.0.0.1:0"))
	t.Cleanup(server.Stop)

	r.server = server
	r.addr = server.Addr().String()
	return r
}

// waitRecord blocks for the next history record.
func waitRecord(t *testing.T, ch chan HistoryRecord) HistoryRecord {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for history record")
		return HistoryRecord{}
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	r := startReceiver(t, nil)

	srcDir := t.TempDir()
	first := writeTestFile(t, srcDir, "report.pdf", "first file body")
	second := writeTestFile(t, srcDir, "notes.txt", "second file body, a bit longer")

	var sendRecords []HistoryRecord
	result, err := SendFiles(context.Background(), r.addr, []string{first, second}, SendConfig{
		History: HistorySinkFunc(func(rec HistoryRecord) {
			sendRecords = append(sendRecords, rec)
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len("first file body")+len("second file body, a bit longer")), result.BytesSent)

	rec := waitRecord(t, r.records)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, DirectionReceive, rec.Direction)
	assert.Equal(t, 2, rec.FileCount)
	assert.Equal(t, 2, rec.VerifiedCount)
	assert.Equal(t, 2, rec.VerifiedTotal)
	assert.Equal(t, result.BytesSent, rec.TotalBytes)

	got, err := os.ReadFile(filepath.Join(r.dir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "first file body", string(got))
	got, err = os.ReadFile(filepath.Join(r.dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second file body, a bit longer", string(got))

	require.Len(t, sendRecords, 1, "exactly one record per session on the send side")
	assert.Equal(t, StatusSuccess, sendRecords[0].Status)
	assert.Equal(t, DirectionSend, sendRecords[0].Direction)
	assert.Equal(t, 2, sendRecords[0].FileCount)
}

func TestSendRecordsDuplicates(t *testing.T) {
	r := startReceiver(t, nil)

	srcDir := t.TempDir()
	path := writeTestFile(t, srcDir, "report.pdf", "dup tracked body")
	dupes, err := dupstore.Open(filepath.Join(srcDir, "duplicates.json"))
	require.NoError(t, err)

	_, err = SendFiles(context.Background(), r.addr, []string{path}, SendConfig{Dupes: dupes})
	require.NoError(t, err)
	waitRecord(t, r.records)

	digest, _, err := checksum.FileDigest(path)
	require.NoError(t, err)
	dup, rec := dupes.IsDuplicate(path, digest, "127.0.0.1")
	assert.True(t, dup, "a completed send must be recorded in the duplicate index")
	require.NotNil(t, rec)
}

func TestHashMismatchKeepsFileAndContinues(t *testing.T) {
	r := startReceiver(t, nil)

	goodBody := "intact content"
	badBody := "tampered content"
	goodDigest := checksum.Digest([]byte(goodBody))

	manifest := wire.NewManifest([]wire.FileDescriptor{
		{Rel: "bad.txt", Size: int64(len(badBody)), SHA256: goodDigest},
		{Rel: "good.txt", Size: int64(len(goodBody)), SHA256: goodDigest},
	})

	conn, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, wire.WriteManifest(conn, manifest))
	_, err = conn.Write([]byte(badBody))
	require.NoError(t, err)
	_, err = conn.Write([]byte(goodBody))
	require.NoError(t, err)
	conn.Close()

	rec := waitRecord(t, r.records)
	assert.Equal(t, StatusSuccess, rec.Status, "a hash mismatch must not fail the session")
	assert.Equal(t, 2, rec.VerifiedTotal)
	assert.Equal(t, 1, rec.VerifiedCount)

	got, err := os.ReadFile(filepath.Join(r.dir, "bad.txt"))
	require.NoError(t, err, "the mismatched file must be kept")
	assert.Equal(t, badBody, string(got))
}

func TestSkipDrainsStreamAndKeepsExisting(t *testing.T) {
	r := startReceiver(t, func(cfg *ServerConfig) {
		cfg.Decider = func(string) OverwriteDecision { return Skip }
	})
	writeTestFile(t, r.dir, "dup.txt", "original")

	srcDir := t.TempDir()
	dup := writeTestFile(t, srcDir, "dup.txt", "replacement body")
	fresh := writeTestFile(t, srcDir, "fresh.txt", "fresh body")

	_, err := SendFiles(context.Background(), r.addr, []string{dup, fresh}, SendConfig{})
	require.NoError(t, err)

	rec := waitRecord(t, r.records)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, 1, rec.VerifiedTotal, "skipped files are not received")
	assert.Equal(t, 1, rec.VerifiedCount, "the file after the skip must still verify")

	got, err := os.ReadFile(filepath.Join(r.dir, "dup.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(got), "skip must keep the existing file")

	got, err = os.ReadFile(filepath.Join(r.dir, "fresh.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh body", string(got))
}

func TestOverwriteDecisionIsSticky(t *testing.T) {
	var asks int32
	r := startReceiver(t, func(cfg *ServerConfig) {
		cfg.Decider = func(string) OverwriteDecision {
			atomic.AddInt32(&asks, 1)
			return Overwrite
		}
	})
	writeTestFile(t, r.dir, "a.txt", "old a")
	writeTestFile(t, r.dir, "b.txt", "old b")

	srcDir := t.TempDir()
	a := writeTestFile(t, srcDir, "a.txt", "new a")
	b := writeTestFile(t, srcDir, "b.txt", "new b")

	_, err := SendFiles(context.Background(), r.addr, []string{a, b}, SendConfig{})
	require.NoError(t, err)

	rec := waitRecord(t, r.records)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&asks), "the first answer must apply to later collisions")

	got, err := os.ReadFile(filepath.Join(r.dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new b", string(got))
}

func TestCancelAllEndsInboundSession(t *testing.T) {
	r := startReceiver(t, func(cfg *ServerConfig) {
		cfg.Decider = func(string) OverwriteDecision { return CancelAll }
	})
	writeTestFile(t, r.dir, "dup.txt", "original")

	srcDir := t.TempDir()
	dup := writeTestFile(t, srcDir, "dup.txt", "replacement")

	// The sender may or may not notice the early close; only the
	// receiver's record is asserted.
	_, _ = SendFiles(context.Background(), r.addr, []string{dup}, SendConfig{})

	rec := waitRecord(t, r.records)
	assert.Equal(t, StatusCancelled, rec.Status)

	got, err := os.ReadFile(filepath.Join(r.dir, "dup.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestTruncatedStreamFailsSession(t *testing.T) {
	r := startReceiver(t, nil)

	digest := checksum.Digest([]byte("does not matter"))
	manifest := wire.NewManifest([]wire.FileDescriptor{
		{Rel: "cut.bin", Size: 100, SHA256: digest},
	})

	conn, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	require.NoError(t, wire.WriteManifest(conn, manifest))
	_, err = conn.Write([]byte("only ten b"))
	require.NoError(t, err)
	conn.Close()

	rec := waitRecord(t, r.records)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "truncated")
}

func TestStopMidSessionRecordsInterrupted(t *testing.T) {
	r := startReceiver(t, nil)

	body := strings.Repeat("x", 8192)
	digest := checksum.Digest([]byte(body))
	manifest := wire.NewManifest([]wire.FileDescriptor{
		{Rel: "inflight.bin", Size: int64(len(body)), SHA256: digest},
	})

	conn, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, wire.WriteManifest(conn, manifest))
	_, err = conn.Write([]byte(body[:4096]))
	require.NoError(t, err)

	// Stop blocks on the in-flight session, so it runs concurrently with
	// the rest of the stream.
	stopDone := make(chan struct{})
	go func() {
		r.server.Stop()
		close(stopDone)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !r.server.stopping() {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, r.server.stopping(), "shutdown never began")

	_, err = conn.Write([]byte(body[4096:]))
	require.NoError(t, err)
	conn.Close()

	rec := waitRecord(t, r.records)
	assert.Equal(t, StatusInterrupted, rec.Status, "a session outliving the listener must not record success")
	assert.Equal(t, 1, rec.VerifiedCount, "the bytes still arrived intact")

	select {
	case <-stopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestSendPhaseSequence(t *testing.T) {
	r := startReceiver(t, nil)

	srcDir := t.TempDir()
	path := writeTestFile(t, srcDir, "phases.txt", "phase sequence body")

	var phases []Phase
	_, err := SendFiles(context.Background(), r.addr, []string{path}, SendConfig{
		OnPhase: func(p Phase) { phases = append(phases, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, []Phase{
		PhaseConnecting,
		PhaseSendingMetadata,
		PhaseTransferring,
		PhaseVerifying,
	}, phases)
}

func TestPauseHoldsOutboundStream(t *testing.T) {
	r := startReceiver(t, nil)

	srcDir := t.TempDir()
	path := writeTestFile(t, srcDir, "paused.txt", "body held by pause")

	sig := NewSignal()
	sig.Pause()

	done := make(chan error, 1)
	go func() {
		_, err := SendFiles(context.Background(), r.addr, []string{path}, SendConfig{Signal: sig})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("send finished while paused")
	case <-time.After(300 * time.Millisecond):
	}

	sig.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not resume")
	}

	rec := waitRecord(t, r.records)
	assert.Equal(t, StatusSuccess, rec.Status)
}

func TestPauseFreezesBytesDoneMidStream(t *testing.T) {
	r := startReceiver(t, nil)

	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "big.bin")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("y", 256*1024)), 0o600))

	sig := NewSignal()
	var bytesDone int64
	var pauseOnce sync.Once

	done := make(chan error, 1)
	go func() {
		// Small chunks so the pause lands mid-file, after the first
		// progress report.
		_, err := SendFiles(context.Background(), r.addr, []string{path}, SendConfig{
			ChunkSize: limits.MinChunkSize,
			Signal:    sig,
			OnProgress: func(p Progress) {
				atomic.StoreInt64(&bytesDone, p.BytesDone)
				pauseOnce.Do(sig.Pause)
			},
		})
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt64(&bytesDone) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	atPause := atomic.LoadInt64(&bytesDone)
	require.Positive(t, atPause, "stream never started")
	require.Less(t, atPause, int64(256*1024), "pause must land before the file completes")

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, atPause, atomic.LoadInt64(&bytesDone), "no bytes may move while paused")

	select {
	case <-done:
		t.Fatal("send finished while paused")
	default:
	}

	sig.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not resume")
	}
	assert.Equal(t, int64(256*1024), atomic.LoadInt64(&bytesDone))

	rec := waitRecord(t, r.records)
	assert.Equal(t, StatusSuccess, rec.Status)
}

func TestCancelSignalEmitsCancelledRecord(t *testing.T) {
	srcDir := t.TempDir()
	path := writeTestFile(t, srcDir, "never.txt", "never leaves")

	sig := NewSignal()
	sig.Cancel()

	var records []HistoryRecord
	_, err := SendFiles(context.Background(), "127.0.0.1:1", []string{path}, SendConfig{
		Signal: sig,
		History: HistorySinkFunc(func(rec HistoryRecord) {
			records = append(records, rec)
		}),
	})
	assert.ErrorIs(t, err, ErrCancelled)

	require.Len(t, records, 1)
	assert.Equal(t, StatusCancelled, records[0].Status)
	assert.Equal(t, DirectionSend, records[0].Direction)
}

func TestSendFilesRequiresPaths(t *testing.T) {
	_, err := SendFiles(context.Background(), "127.0.0.1:1", nil, SendConfig{})
	assert.Error(t, err)
}

func TestSendFilesMissingFile(t *testing.T) {
	var records []HistoryRecord
	_, err := SendFiles(context.Background(), "127.0.0.1:1", []string{"/does/not/exist"}, SendConfig{
		History: HistorySinkFunc(func(rec HistoryRecord) {
			records = append(records, rec)
		}),
	})
	assert.Error(t, err)
	require.Len(t, records, 1, "failed sessions still emit a record")
	assert.Equal(t, StatusFailed, records[0].Status)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"nested/dir/file.txt", "file.txt"},
		{`win\style\name.doc`, "name.doc"},
		{"..", "unnamed"},
		{".", "unnamed"},
		{"/", "unnamed"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestServerStopIsIdempotent(t *testing.T) {
	server, err := NewServer(ServerConfig{DownloadDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, server.Start("127.0.0.1:0"))
	assert.True(t, server.IsRunning())

	server.Stop()
	server.Stop()
	assert.False(t, server.IsRunning())
	assert.Nil(t, server.Addr())
}

func TestServerRequiresDownloadDir(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
