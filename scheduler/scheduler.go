// Package scheduler queues outbound transfer jobs and runs them on a
// bounded worker pool. Jobs are dispatched strictly in submission order;
// at most the configured number of sessions run at once and the rest wait
// in the queue. Pause, resume, and cancel act on every in-flight and
// queued job through a shared signal.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/OgboiEhioma/goodluck-sharing/limits"
	"github.com/OgboiEhioma/goodluck-sharing/transfer"
)

const (
	// DefaultWorkers is the worker count when none is configured.
	DefaultWorkers = 4

	// queueCapacity bounds the backlog; Submit fails once it is full.
	queueCapacity = 256
)

// ErrQueueFull indicates the backlog is at capacity.
var ErrQueueFull = errors.New("transfer queue is full")

// ErrStopped indicates the scheduler is no longer accepting jobs.
var ErrStopped = errors.New("scheduler is stopped")

// JobState tracks a job through its lifecycle. States advance
// monotonically; Completed, Cancelled, and Failed are terminal.
type JobState int

const (
	StateQueued JobState = iota
	StateConnecting
	StateSendingMetadata
	StateTransferring
	StateVerifying
	StateCompleted
	StateCancelled
	StateFailed
)

// String returns a human-readable state name.
func (s JobState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateConnecting:
		return "connecting"
	case StateSendingMetadata:
		return "sending_metadata"
	case StateTransferring:
		return "transferring"
	case StateVerifying:
		return "verifying"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a job's lifecycle.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Job is one queued outbound transfer.
type Job struct {
	ID          string
	PeerAddress string
	Paths       []string

	mu     sync.Mutex
	state  JobState
	err    error
	gen    *generation
	notify func(*Job, JobState)
}

// State returns the job's current lifecycle state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the error that ended the job, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// SetState advances the job's state. Terminal states are final; later
// calls are ignored.
func (j *Job) SetState(state JobState) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.state = state
	notify := j.notify
	j.mu.Unlock()

	if notify != nil {
		notify(j, state)
	}
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}

// generation groups the cancellation scope of a batch of jobs. CancelAll
// retires the current generation, so jobs submitted afterwards start
// clean instead of observing a stale cancel flag.
type generation struct {
	ctx    context.Context
	cancel context.CancelFunc
	sig    *transfer.Signal
}

func newGeneration() *generation {
	ctx, cancel := context.WithCancel(context.Background())
	return &generation{ctx: ctx, cancel: cancel, sig: transfer.NewSignal()}
}

// Runner executes one job. The signal must be honored at chunk
// boundaries so PauseAll and CancelAll take effect mid-session.
type Runner func(ctx context.Context, job *Job, sig *transfer.Signal) error

// Scheduler owns the job queue and worker pool.
type Scheduler struct {
	workers int
	runner  Runner
	queue   chan *Job

	mu       sync.Mutex
	gen      *generation
	running  bool
	stopped  bool
	onState  func(*Job, JobState)
	history  transfer.HistorySink
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler with the given worker count. Zero selects
// DefaultWorkers; counts outside the supported range are rejected.
func New(workers int, runner Runner) (*Scheduler, error) {
	if workers == 0 {
		workers = DefaultWorkers
	}
	if err := limits.ValidateConcurrency(workers); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	return &Scheduler{
		workers:  workers,
		runner:   runner,
		queue:    make(chan *Job, queueCapacity),
		gen:      newGeneration(),
		stopChan: make(chan struct{}),
	}, nil
}

// OnStateChange registers a callback fired on every job state change.
// The callback must not block.
func (s *Scheduler) OnStateChange(fn func(*Job, JobState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// SetHistory registers the sink that receives synthesized records for
// jobs cancelled before they ever ran.
func (s *Scheduler) SetHistory(sink transfer.HistorySink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = sink
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.stopped {
		return
	}
	s.running = true

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"workers":  s.workers,
	}).Info("Transfer scheduler started")
}

// Stop ends the worker pool after in-flight jobs finish. Queued jobs are
// drained and marked cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.drainQueue()
	s.wg.Wait()

	logrus.WithField("function", "Stop").Info("Transfer scheduler stopped")
}

// Submit queues a transfer of paths to the given peer address and
// returns the job handle immediately.
func (s *Scheduler) Submit(peerAddress string, paths []string) (*Job, error) {
	if peerAddress == "" {
		return nil, fmt.Errorf("peer address is required")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to send")
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	job := &Job{
		ID:          uuid.NewString(),
		PeerAddress: peerAddress,
		Paths:       paths,
		state:       StateQueued,
		gen:         s.gen,
		notify:      s.notifyState,
	}
	s.mu.Unlock()

	select {
	case s.queue <- job:
	default:
		return nil, ErrQueueFull
	}

	logrus.WithFields(logrus.Fields{
		"function": "Submit",
		"job_id":   job.ID,
		"peer":     peerAddress,
		"files":    len(paths),
	}).Info("Transfer job queued")

	return job, nil
}

// PauseAll holds every running job at its next chunk boundary. Queued
// jobs stay queued.
func (s *Scheduler) PauseAll() {
	s.currentGen().sig.Pause()
	logrus.WithField("function", "PauseAll").Info("All transfers paused")
}

// ResumeAll releases paused jobs.
func (s *Scheduler) ResumeAll() {
	s.currentGen().sig.Resume()
	logrus.WithField("function", "ResumeAll").Info("All transfers resumed")
}

// CancelAll cancels every running job at its next chunk boundary and
// drains the queue, emitting a cancelled record for each job that never
// ran. Jobs submitted after CancelAll returns are unaffected.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	old := s.gen
	s.gen = newGeneration()
	s.mu.Unlock()

	old.sig.Cancel()
	old.cancel()
	s.drainQueue()

	logrus.WithField("function", "CancelAll").Info("All transfers cancelled")
}

func (s *Scheduler) currentGen() *generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// drainQueue empties the backlog, marking each drained job cancelled.
func (s *Scheduler) drainQueue() {
	for {
		select {
		case job := <-s.queue:
			s.cancelQueued(job)
		default:
			return
		}
	}
}

// cancelQueued marks a never-run job cancelled and synthesizes its
// history record, keeping the one-record-per-job contract.
func (s *Scheduler) cancelQueued(job *Job) {
	job.fail(transfer.ErrCancelled)
	job.SetState(StateCancelled)

	s.mu.Lock()
	sink := s.history
	s.mu.Unlock()
	if sink != nil {
		sink.Append(transfer.HistoryRecord{
			Time:      time.Now(),
			Direction: transfer.DirectionSend,
			Peer:      job.PeerAddress,
			FileCount: len(job.Paths),
			Status:    transfer.StatusCancelled,
		})
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case job := <-s.queue:
			s.runJob(id, job)
		}
	}
}

// runJob executes one job through the runner. Jobs whose generation was
// cancelled while they waited never run.
func (s *Scheduler) runJob(workerID int, job *Job) {
	if job.gen.ctx.Err() != nil || job.gen.sig.Cancelled() {
		s.cancelQueued(job)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "runJob",
		"worker":   workerID,
		"job_id":   job.ID,
		"peer":     job.PeerAddress,
	}).Info("Transfer job started")

	job.SetState(StateConnecting)
	err := s.runner(job.gen.ctx, job, job.gen.sig)
	switch {
	case err == nil:
		job.SetState(StateCompleted)
	case errors.Is(err, transfer.ErrCancelled), errors.Is(err, context.Canceled):
		job.fail(err)
		job.SetState(StateCancelled)
	default:
		job.fail(err)
		job.SetState(StateFailed)
	}

	logrus.WithFields(logrus.Fields{
		"function": "runJob",
		"worker":   workerID,
		"job_id":   job.ID,
		"state":    job.State().String(),
	}).Info("Transfer job finished")
}

func (s *Scheduler) notifyState(job *Job, state JobState) {
	s.mu.Lock()
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(job, state)
	}
}
