// Package queue dispatches order execution jobs to a bounded worker
// pool with per-order dedup, rate admission and retry backoff.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/btree"
	"github.com/yanun0323/logs"
	tomb "gopkg.in/tomb.v2"
)

var (
	ErrClosed     = errors.New("queue closed")
	ErrNoHandler  = errors.New("queue handler is nil")
	ErrNotStarted = errors.New("queue not started")
)

const (
	defaultWorkers       = 10
	defaultRatePerMinute = 100
	defaultMaxAttempts   = 3
	defaultBackoffBase   = 2 * time.Second
)

// Handler runs one activated job. The returned error is what the
// dispatcher inspects to decide retry vs terminal failure; the handler
// must leave the order consistent before returning it.
type Handler func(ctx context.Context, orderID string, attempt, maxAttempts int) error

// Config controls dispatch behavior.
type Config struct {
	// Workers bounds concurrently active jobs across all ids.
	Workers int
	// RatePerMinute caps new job activations; excess jobs stay waiting.
	RatePerMinute int
	// MaxAttempts is the total number of tries per job.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = defaultRatePerMinute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	return c
}

// Hooks are optional instrumentation callbacks. All fields may be nil.
type Hooks struct {
	JobActivated func()
	JobFinished  func()
	JobRetried   func()
	JobFailed    func()
}

type scheduleKey struct {
	at time.Time
	id string
}

func scheduleLess(a, b scheduleKey) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.id < b.id
}

// Queue is the dispatcher. One scheduler goroutine admits due jobs
// through a token bucket into an unbuffered activation channel; a
// fixed worker pool supervised by a tomb consumes it.
type Queue struct {
	cfg     Config
	handler Handler
	hooks   Hooks

	mu       sync.Mutex
	jobs     map[string]*Job
	schedule *btree.BTreeG[scheduleKey]
	closed   bool

	limiter    *tokenBucket
	activation chan string
	wake       chan struct{}
	t          *tomb.Tomb
	started    bool
}

// New builds a queue around the given handler.
func New(cfg Config, handler Handler, hooks Hooks) (*Queue, error) {
	if handler == nil {
		return nil, ErrNoHandler
	}
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:        cfg,
		handler:    handler,
		hooks:      hooks,
		jobs:       make(map[string]*Job),
		schedule:   btree.NewBTreeG(scheduleLess),
		limiter:    newTokenBucket(float64(cfg.RatePerMinute)/60.0, cfg.RatePerMinute),
		activation: make(chan string),
		wake:       make(chan struct{}, 1),
	}, nil
}

// Start launches the scheduler and the worker pool. The context only
// bounds the queue's lifetime; job execution contexts derive from it.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	t, ctx := tomb.WithContext(ctx)
	q.t = t
	q.mu.Unlock()

	t.Go(func() error {
		q.runScheduler(ctx)
		return nil
	})
	for i := 0; i < q.cfg.Workers; i++ {
		t.Go(func() error {
			q.runWorker(ctx)
			return nil
		})
	}
	return nil
}

// Close stops intake, waits for active jobs to finish and tears the
// pool down.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	t := q.t
	q.mu.Unlock()
	if t == nil {
		return ErrNotStarted
	}
	t.Kill(nil)
	return t.Wait()
}

// Enqueue registers a job for the order id. Idempotent: while a job
// with the same id is waiting or active the existing handle is
// returned and no duplicate is created. A terminal job record is
// replaced by a fresh job.
func (q *Queue) Enqueue(orderID string) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	if job, ok := q.jobs[orderID]; ok && !job.State.Terminal() {
		return &Handle{ID: orderID, q: q}, nil
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        orderID,
		State:     JobStateWaiting,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.jobs[orderID] = job
	q.schedule.Set(scheduleKey{at: job.NextRunAt, id: orderID})
	q.kick()
	return &Handle{ID: orderID, q: q}, nil
}

// Job returns a snapshot of the job record for the order id.
func (q *Queue) Job(orderID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[orderID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Prune drops terminal job records older than maxAge and, when
// maxCount > 0, keeps only the newest maxCount terminal records.
// Bookkeeping only: order rows are never touched.
func (q *Queue) Prune(maxAge time.Duration, maxCount int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	var terminal []*Job
	for _, job := range q.jobs {
		if !job.State.Terminal() {
			continue
		}
		if maxAge > 0 && now.Sub(job.UpdatedAt) > maxAge {
			delete(q.jobs, job.ID)
			removed++
			continue
		}
		terminal = append(terminal, job)
	}

	if maxCount > 0 && len(terminal) > maxCount {
		sort.Slice(terminal, func(i, j int) bool {
			return terminal[i].UpdatedAt.After(terminal[j].UpdatedAt)
		})
		for _, job := range terminal[maxCount:] {
			delete(q.jobs, job.ID)
			removed++
		}
	}
	return removed
}

// kick wakes the scheduler without blocking.
func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) runScheduler(ctx context.Context) {
	for {
		id, wait, ok := q.nextDue()
		if !ok {
			// Nothing schedulable right now.
			if wait <= 0 {
				select {
				case <-ctx.Done():
					return
				case <-q.wake:
				}
				continue
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-q.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case q.activation <- id:
		}
	}
}

// nextDue pops the next runnable job id. When nothing is runnable it
// returns the duration to sleep (0 means sleep until kicked).
func (q *Queue) nextDue() (string, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		key, ok := q.schedule.Min()
		if !ok {
			return "", 0, false
		}
		now := time.Now().UTC()
		if key.at.After(now) {
			return "", key.at.Sub(now), false
		}

		q.schedule.Delete(key)
		job := q.jobs[key.id]
		if job == nil || job.State != JobStateWaiting {
			// Stale entry, keep scanning.
			continue
		}
		if wait := q.limiter.reserve(now); wait > 0 {
			// Over the admission ceiling; the job stays waiting.
			q.schedule.Set(key)
			return "", wait, false
		}

		job.State = JobStateActive
		job.Attempts++
		job.UpdatedAt = now
		return key.id, 0, true
	}
}

func (q *Queue) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.activation:
			q.process(ctx, id)
		}
	}
}

func (q *Queue) process(ctx context.Context, id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	attempt := job.Attempts
	q.mu.Unlock()

	if q.hooks.JobActivated != nil {
		q.hooks.JobActivated()
	}
	err := q.handler(ctx, id, attempt, q.cfg.MaxAttempts)
	if q.hooks.JobFinished != nil {
		q.hooks.JobFinished()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC()
	job.UpdatedAt = now

	if err == nil {
		job.State = JobStateCompleted
		job.LastError = ""
		return
	}

	job.LastError = err.Error()
	if attempt >= q.cfg.MaxAttempts {
		job.State = JobStateFailed
		if q.hooks.JobFailed != nil {
			q.hooks.JobFailed()
		}
		logs.Errorf("job %s failed terminally after %d attempts, err: %+v", id, attempt, err)
		return
	}

	// Exponential backoff: base * 2^(attempt-1).
	delay := q.cfg.BackoffBase << (attempt - 1)
	job.State = JobStateWaiting
	job.NextRunAt = now.Add(delay)
	q.schedule.Set(scheduleKey{at: job.NextRunAt, id: id})
	if q.hooks.JobRetried != nil {
		q.hooks.JobRetried()
	}
	logs.Warnf("job %s attempt %d/%d failed, retry in %s, err: %+v", id, attempt, q.cfg.MaxAttempts, delay, err)
	q.kick()
}
