package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

var (
	// ErrAlreadyRunning rejects a second Register for a diagnostic that still
	// has a live job. At most one pipeline runs per diagnostic id per process.
	ErrAlreadyRunning = errors.New("a background job is already running for this diagnostic")
	// ErrShuttingDown rejects new jobs once shutdown has begun.
	ErrShuttingDown = errors.New("job supervisor is shutting down")
)

// Job is the in-memory handle for one running pipeline. It is never persisted.
type Job struct {
	DiagnosticID uuid.UUID
	cancel       context.CancelFunc
	done         chan struct{}
}

// Done is closed when the job has fully finished (success, failure or cancel).
func (j *Job) Done() <-chan struct{} { return j.done }

/*
Supervisor is the process-wide registry of in-flight diagnostic jobs plus the
cooperative shutdown signal the pipeline consults between steps.
It is the one piece of intentional process-wide mutable state in the system:
	- Register/finish mutate a mutex-guarded map keyed by diagnostic id, safe
	  under concurrent submissions.
	- ShuttingDown is an atomic flag; the pipeline reads it at step boundaries
	  and leaves the diagnostic in draft instead of mid-write when it flips.
	- Shutdown cancels every registered job and waits for all of them to drain.
*/
type Supervisor struct {
	mu           sync.Mutex
	jobs         map[uuid.UUID]*Job
	shuttingDown atomic.Bool
	log          *logger.Logger
}

func NewSupervisor(baseLog *logger.Logger) *Supervisor {
	return &Supervisor{
		jobs: make(map[uuid.UUID]*Job),
		log:  baseLog.With("component", "JobSupervisor"),
	}
}

// Register records a new job for the diagnostic and returns its handle. The
// caller must call Finish (usually deferred) when the job ends.
func (s *Supervisor) Register(diagnosticID uuid.UUID, cancel context.CancelFunc) (*Job, error) {
	if s.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[diagnosticID]; exists {
		return nil, ErrAlreadyRunning
	}
	job := &Job{
		DiagnosticID: diagnosticID,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	s.jobs[diagnosticID] = job
	return job, nil
}

// Finish unregisters the job and releases anyone waiting on its Done channel.
// Safe to call more than once.
func (s *Supervisor) Finish(diagnosticID uuid.UUID) {
	s.mu.Lock()
	job, ok := s.jobs[diagnosticID]
	if ok {
		delete(s.jobs, diagnosticID)
	}
	s.mu.Unlock()
	if ok {
		select {
		case <-job.done:
		default:
			close(job.done)
		}
	}
}

func (s *Supervisor) Running(diagnosticID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[diagnosticID]
	return ok
}

func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Supervisor) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Shutdown flips the cooperative flag, cancels every live job and waits for
// them to drain or for ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)

	s.mu.Lock()
	pending := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		pending = append(pending, job)
	}
	s.mu.Unlock()

	s.log.Info("Shutting down job supervisor", "running_jobs", len(pending))
	for _, job := range pending {
		if job.cancel != nil {
			job.cancel()
		}
	}

	for _, job := range pending {
		select {
		case <-job.done:
		case <-ctx.Done():
			s.log.Warn("Shutdown wait expired with jobs still draining", "diagnostic_id", job.DiagnosticID)
			return ctx.Err()
		}
	}
	return nil
}
