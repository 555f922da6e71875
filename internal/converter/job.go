package converter

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"frame-converter-go/internal/progress"
)

// State is a job's position in its lifecycle.
type State string

const (
	StateIdle      State = "Idle"
	StateRunning   State = "Running"
	StatePaused    State = "Paused"
	StateCompleted State = "Completed"
	StateCancelled State = "Cancelled"
	StateFailed    State = "Failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Job is one conversion run. The controller owns it; control operations and
// the worker goroutine share it through its mutex.
type Job struct {
	ID      string
	Request Request

	mu              sync.Mutex
	gate            *sync.Cond
	state           State
	cancelRequested bool
	cancel          context.CancelFunc
	last            progress.Event
	startedAt       time.Time
	finishedAt      time.Time

	results Aggregator
	done    chan struct{}
}

// JobSummary is a snapshot of a job.
type JobSummary struct {
	ID         string          `json:"id,omitempty"`
	State      State           `json:"state"`
	Progress   progress.Event  `json:"progress"`
	Results    []ConvertResult `json:"results"`
	StartedAt  time.Time       `json:"startedAt,omitempty"`
	FinishedAt time.Time       `json:"finishedAt,omitempty"`
}

func newJob(req Request, cancel context.CancelFunc) *Job {
	j := &Job{
		ID:        uuid.NewString(),
		Request:   req,
		state:     StateRunning,
		cancel:    cancel,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	j.gate = sync.NewCond(&j.mu)
	return j
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job is terminal and returns its results.
func (j *Job) Wait() []ConvertResult {
	<-j.done
	return j.results.Results()
}

// Summary returns a snapshot of the job.
func (j *Job) Summary() JobSummary {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSummary{
		ID:         j.ID,
		State:      j.state,
		Progress:   j.last,
		Results:    j.results.Results(),
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
}

// checkpoint is the suspension point handed to encoders: it blocks while the
// job is paused and returns ctx.Err() once the job is cancelled.
func (j *Job) checkpoint(ctx context.Context) error {
	j.mu.Lock()
	for j.state == StatePaused && !j.cancelRequested && ctx.Err() == nil {
		j.gate.Wait()
	}
	j.mu.Unlock()
	return ctx.Err()
}

// wake releases goroutines parked in checkpoint so they can observe ctx.
func (j *Job) wake() {
	j.mu.Lock()
	j.gate.Broadcast()
	j.mu.Unlock()
}

func (j *Job) pause() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning || j.cancelRequested {
		return newError(KindInvalidState, "pause", stateError(j.state))
	}
	j.state = StatePaused
	return nil
}

func (j *Job) resume() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePaused || j.cancelRequested {
		return newError(KindInvalidState, "resume", stateError(j.state))
	}
	j.state = StateRunning
	j.gate.Broadcast()
	return nil
}

func (j *Job) requestCancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning && j.state != StatePaused {
		return newError(KindInvalidState, "cancel", stateError(j.state))
	}
	j.cancelRequested = true
	j.cancel()
	j.gate.Broadcast()
	return nil
}

func (j *Job) record(e progress.Event) {
	j.mu.Lock()
	j.last = e
	j.mu.Unlock()
}

func (j *Job) finish(state State) {
	j.mu.Lock()
	j.state = state
	j.finishedAt = time.Now()
	j.gate.Broadcast()
	j.mu.Unlock()
	close(j.done)
}

type stateError State

func (s stateError) Error() string {
	return "job is " + string(s)
}
