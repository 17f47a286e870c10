package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rahul/nlsql/internal/agent"
	"github.com/rahul/nlsql/internal/observability"
	"github.com/rahul/nlsql/internal/store"
)

// InterruptedMessage is recorded for jobs a previous process left pending.
const InterruptedMessage = "interrupted: the server stopped before the query finished"

// Answerer answers one question.
type Answerer interface {
	Answer(ctx context.Context, question string) (*agent.Response, error)
}

// View is what a poll reports about a job.
type View struct {
	ID       string          `json:"query_id"`
	Status   store.JobStatus `json:"status"`
	Response *agent.Response `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Tracker submits questions to the pool and records their outcome.
type Tracker struct {
	Store    *store.JobStore
	Answerer Answerer
	Pool     *Pool
	Logger   *observability.Logger
	NewID    func() string
}

func NewTracker(jobStore *store.JobStore, answerer Answerer, pool *Pool, logger *observability.Logger) *Tracker {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Tracker{
		Store:    jobStore,
		Answerer: answerer,
		Pool:     pool,
		Logger:   logger,
		NewID:    uuid.NewString,
	}
}

// Submit records a pending job and queues its run. It returns as soon as the
// run is queued.
func (t *Tracker) Submit(ctx context.Context, question string) (*store.Job, *Task, error) {
	id := t.NewID()

	job, err := t.Store.CreatePending(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	t.Logger.LogJob(id, string(store.JobStatusPending), question)

	task, err := t.Pool.Submit(ctx, func(ctx context.Context) error {
		return t.execute(ctx, id, question)
	})
	if err != nil {
		// Nothing will ever run this job.
		t.fail(id, fmt.Sprintf("not scheduled: %v", err))
		return nil, nil, fmt.Errorf("schedule job %s: %w", id, err)
	}
	return job, task, nil
}

// execute is the only writer of the job's terminal status.
func (t *Tracker) execute(ctx context.Context, id, question string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			t.fail(id, err.Error())
		}
	}()

	resp, err := t.Answerer.Answer(ctx, question)
	if err != nil {
		t.fail(id, err.Error())
		return err
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		t.fail(id, fmt.Sprintf("encode response: %v", err))
		return err
	}

	// Detached from the run context so shutdown cannot drop the result.
	if err := t.Store.MarkFinished(context.Background(), id, string(payload)); err != nil {
		t.Logger.Zap().Error("failed to record finished job", zap.String("job_id", id), zap.Error(err))
		return err
	}
	t.Logger.LogJob(id, string(store.JobStatusFinished), "")
	return nil
}

func (t *Tracker) fail(id, message string) {
	if err := t.Store.MarkError(context.Background(), id, message); err != nil {
		t.Logger.Zap().Error("failed to record job error", zap.String("job_id", id), zap.Error(err))
		return
	}
	t.Logger.LogJob(id, string(store.JobStatusError), message)
}

// Poll reports the current state of a job.
func (t *Tracker) Poll(ctx context.Context, id string) (*View, error) {
	job, err := t.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &View{ID: job.ID, Status: job.Status}
	switch job.Status {
	case store.JobStatusPending:
	case store.JobStatusFinished:
		var resp agent.Response
		if err := json.Unmarshal([]byte(job.Result), &resp); err != nil {
			return nil, fmt.Errorf("decode result of job %s: %w", id, err)
		}
		view.Response = &resp
	case store.JobStatusError:
		view.Error = job.Result
	default:
		// audit rows share the table but are not jobs
		return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	return view, nil
}

// RecoverInterrupted fails jobs left pending by a previous process.
func (t *Tracker) RecoverInterrupted(ctx context.Context) error {
	n, err := t.Store.FailPending(ctx, InterruptedMessage)
	if err != nil {
		return err
	}
	if n > 0 {
		t.Logger.Zap().Warn("marked interrupted jobs as failed", zap.Int64("count", n))
	}
	return nil
}

// IsNotFound reports whether err means the job does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
