// Package goodluck implements a LAN file sharing engine: UDP broadcast
// peer discovery, a length-prefixed manifest plus raw-bytes TCP transfer
// protocol with SHA-256 verification, a bounded-concurrency outbound
// scheduler with cooperative pause and cancel, and a persisted duplicate
// index.
//
// Basic usage:
//
//	options := goodluck.NewOptions()
//	options.DeviceName = "workstation"
//	options.DownloadDir = "/home/user/Downloads"
//
//	engine, err := goodluck.New(options)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.OnPeerDiscovered(func(peer discovery.Peer) {
//		fmt.Printf("found %s at %s\n", peer.DisplayName, peer.Address)
//	})
//
//	if err := engine.Start(); err != nil {
//		log.Fatal(err)
//	}
//	engine.Probe(context.Background())
//
//	job, err := engine.Send("192.168.1.20", []string{"report.pdf"})
package goodluck

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/OgboiEhioma/goodluck-sharing/checksum"
	"github.com/OgboiEhioma/goodluck-sharing/discovery"
	"github.com/OgboiEhioma/goodluck-sharing/dupstore"
	"github.com/OgboiEhioma/goodluck-sharing/scheduler"
	"github.com/OgboiEhioma/goodluck-sharing/transfer"
)

// duplicateIndexFile is the duplicate index file name inside StateDir.
const duplicateIndexFile = "duplicates.json"

// Notifier receives user-facing notifications for finished transfers.
// Implementations bridge to whatever notification surface the host
// application has.
type Notifier interface {
	Notify(title, message string)
}

// Engine ties discovery, transfer, scheduling, and duplicate tracking
// together behind one facade.
type Engine struct {
	options   *Options
	discovery *discovery.Service
	receiver  *transfer.Server
	sched     *scheduler.Scheduler
	dupes     *dupstore.Store

	mu          sync.RWMutex
	onPeer      func(discovery.Peer)
	onProgress  transfer.ProgressFunc
	onComplete  func(transfer.HistoryRecord)
	onDuplicate func(path string, prior []dupstore.Record)
	decider     transfer.OverwriteDecider
	notifier    Notifier
	historySink transfer.HistorySink
}

// New creates an engine from the given options. Nil selects defaults.
// The engine is idle until Start (or the individual Start* methods) is
// called.
func New(options *Options) (*Engine, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	dupes, err := dupstore.Open(filepath.Join(options.StateDir, duplicateIndexFile))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		options:   options,
		discovery: discovery.NewService(options.DeviceName, options.DiscoveryPort),
		dupes:     dupes,
	}

	e.discovery.OnPeer(func(peer discovery.Peer) {
		e.mu.RLock()
		fn := e.onPeer
		e.mu.RUnlock()
		if fn != nil {
			fn(peer)
		}
	})

	e.receiver, err = transfer.NewServer(transfer.ServerConfig{
		DownloadDir: options.DownloadDir,
		ChunkSize:   options.ChunkSize,
		ReadTimeout: options.IOTimeout,
		OnProgress:  e.reportProgress,
		History:     transfer.HistorySinkFunc(e.fanoutHistory),
		Dupes:       dupes,
		Decider:     e.resolveOverwrite,
	})
	if err != nil {
		return nil, err
	}

	e.sched, err = scheduler.New(options.MaxConcurrentTransfers, e.runJob)
	if err != nil {
		return nil, err
	}
	e.sched.SetHistory(transfer.HistorySinkFunc(e.fanoutHistory))

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"device":   options.DeviceName,
	}).Info("Engine created")

	return e, nil
}

// Start brings up discovery, the receiver, and the scheduler together.
// A discovery bind failure is degraded, not fatal: transfers still work
// against peers addressed directly.
func (e *Engine) Start() error {
	if err := e.StartDiscovery(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"error":    err.Error(),
		}).Warn("Discovery unavailable, continuing without it")
	}
	if err := e.StartReceiver(); err != nil {
		return err
	}
	e.sched.Start()
	return nil
}

// Close stops everything and cancels in-flight work.
func (e *Engine) Close() {
	e.sched.CancelAll()
	e.sched.Stop()
	e.receiver.Stop()
	e.discovery.Stop()
	logrus.WithField("function", "Close").Info("Engine closed")
}

// StartDiscovery binds the discovery listener and, when enabled, the
// mDNS backend.
func (e *Engine) StartDiscovery() error {
	if err := e.discovery.Start(); err != nil {
		return err
	}
	if e.options.MDNSEnabled {
		if err := e.discovery.EnableMDNS(e.options.TransferPort); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "StartDiscovery",
				"error":    err.Error(),
			}).Warn("mDNS unavailable, broadcast discovery only")
		}
	}
	return nil
}

// StopDiscovery halts the discovery listener.
func (e *Engine) StopDiscovery() {
	e.discovery.Stop()
}

// Probe runs one discovery round: a broadcast burst followed by a
// capture window. Peers accumulate in the table as responses arrive.
func (e *Engine) Probe(ctx context.Context) error {
	e.discovery.ClearPeers()
	return e.discovery.Probe(ctx)
}

// Peers returns the current peer table snapshot.
func (e *Engine) Peers() []discovery.Peer {
	return e.discovery.Peers()
}

// StartReceiver begins accepting inbound transfers on the configured
// port.
func (e *Engine) StartReceiver() error {
	return e.receiver.Start(fmt.Sprintf(":%d", e.options.TransferPort))
}

// StopReceiver stops accepting inbound transfers.
func (e *Engine) StopReceiver() {
	e.receiver.Stop()
}

// ReceiverAddr returns the bound transfer address, or nil when the
// receiver is stopped.
func (e *Engine) ReceiverAddr() net.Addr {
	return e.receiver.Addr()
}

// Send queues an outbound transfer and returns its job handle. The peer
// address may omit the port, in which case the configured transfer port
// is used. When a duplicate advisory callback is registered, prior
// transfers of the same content are reported before the job is queued;
// the advisory never blocks the send.
func (e *Engine) Send(peerAddress string, paths []string) (*scheduler.Job, error) {
	addr := ensurePort(peerAddress, e.options.TransferPort)

	e.mu.RLock()
	advisory := e.onDuplicate
	e.mu.RUnlock()
	if advisory != nil {
		for path, prior := range e.CheckDuplicates(paths) {
			advisory(path, prior)
		}
	}

	return e.sched.Submit(addr, paths)
}

// CheckDuplicates hashes the given paths and returns prior transfer
// records for those already in the duplicate index. Unreadable paths are
// skipped.
func (e *Engine) CheckDuplicates(paths []string) map[string][]dupstore.Record {
	found := make(map[string][]dupstore.Record)
	for _, path := range paths {
		digest, _, err := checksum.FileDigest(path)
		if err != nil {
			continue
		}
		if prior := e.dupes.Lookup(path, digest); len(prior) > 0 {
			found[path] = prior
		}
	}
	return found
}

// PauseAll holds every running outbound session at its next chunk
// boundary.
func (e *Engine) PauseAll() {
	e.sched.PauseAll()
}

// ResumeAll releases paused sessions.
func (e *Engine) ResumeAll() {
	e.sched.ResumeAll()
}

// CancelAll cancels running sessions and drains the queue.
func (e *Engine) CancelAll() {
	e.sched.CancelAll()
}

// ClearDuplicates wipes the duplicate index.
func (e *Engine) ClearDuplicates() {
	e.dupes.Clear()
}

// OnPeerDiscovered registers a callback for discovered peers.
func (e *Engine) OnPeerDiscovered(fn func(discovery.Peer)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPeer = fn
}

// OnProgress registers a callback for throttled transfer progress.
func (e *Engine) OnProgress(fn transfer.ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = fn
}

// OnTransferComplete registers a callback fired once per finished
// session on either side.
func (e *Engine) OnTransferComplete(fn func(transfer.HistoryRecord)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onComplete = fn
}

// OnDuplicateAdvisory registers a callback warned before sending content
// the duplicate index has seen before.
func (e *Engine) OnDuplicateAdvisory(fn func(path string, prior []dupstore.Record)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDuplicate = fn
}

// SetOverwriteDecider registers the resolver consulted when an incoming
// file name already exists. Without one, collisions are skipped.
func (e *Engine) SetOverwriteDecider(fn transfer.OverwriteDecider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decider = fn
}

// SetNotifier registers the notification surface for finished transfers.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// SetHistorySink registers a sink receiving every history record.
func (e *Engine) SetHistorySink(sink transfer.HistorySink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.historySink = sink
}

// runJob executes one scheduled job through an outbound session, mapping
// session phases onto the job lifecycle.
func (e *Engine) runJob(ctx context.Context, job *scheduler.Job, sig *transfer.Signal) error {
	_, err := transfer.SendFiles(ctx, job.PeerAddress, job.Paths, transfer.SendConfig{
		ChunkSize:    e.options.ChunkSize,
		DialTimeout:  e.options.DialTimeout,
		WriteTimeout: e.options.IOTimeout,
		OnProgress:   e.reportProgress,
		OnPhase: func(p transfer.Phase) {
			job.SetState(phaseState(p))
		},
		History: transfer.HistorySinkFunc(e.fanoutHistory),
		Dupes:   e.dupes,
		Signal:  sig,
	})
	return err
}

// reportProgress forwards progress to the registered callback.
func (e *Engine) reportProgress(p transfer.Progress) {
	e.mu.RLock()
	fn := e.onProgress
	e.mu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

// resolveOverwrite forwards a name collision to the registered decider.
func (e *Engine) resolveOverwrite(name string) transfer.OverwriteDecision {
	e.mu.RLock()
	fn := e.decider
	e.mu.RUnlock()
	if fn == nil {
		return transfer.Skip
	}
	return fn(name)
}

// fanoutHistory delivers one finished-session record to every registered
// consumer.
func (e *Engine) fanoutHistory(rec transfer.HistoryRecord) {
	e.mu.RLock()
	sink := e.historySink
	onComplete := e.onComplete
	notifier := e.notifier
	e.mu.RUnlock()

	if sink != nil {
		sink.Append(rec)
	}
	if onComplete != nil {
		onComplete(rec)
	}
	if notifier != nil {
		notifier.Notify("Transfer "+string(rec.Status), notificationMessage(rec))
	}
}

// notificationMessage renders a one-line summary of a finished session.
func notificationMessage(rec transfer.HistoryRecord) string {
	verb := "Received"
	if rec.Direction == transfer.DirectionSend {
		verb = "Sent"
	}
	return fmt.Sprintf("%s %d file(s), %s, verified %d/%d",
		verb, rec.FileCount, transfer.FormatBytes(rec.TotalBytes),
		rec.VerifiedCount, rec.VerifiedTotal)
}

// phaseState maps a session phase to the matching job state.
func phaseState(p transfer.Phase) scheduler.JobState {
	switch p {
	case transfer.PhaseConnecting:
		return scheduler.StateConnecting
	case transfer.PhaseSendingMetadata:
		return scheduler.StateSendingMetadata
	case transfer.PhaseVerifying:
		return scheduler.StateVerifying
	default:
		return scheduler.StateTransferring
	}
}

// ensurePort appends the default port when the address has none.
func ensurePort(address string, port int) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(port))
}
