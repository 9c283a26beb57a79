package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/pollster/internal/gateway"
	"github.com/jpalmerr/pollster/internal/query"
)

// Scheduler defaults.
const (
	DefaultTickInterval    = time.Second
	DefaultMaxConcurrency  = 5
	DefaultFirstFetchCount = 3
	DefaultFirstFetchDelay = 15 * time.Second
)

// Subscriber receives the pages fetched for the queries it subscribed to.
// q is the query as subscribed, without the scheduler's paging additions.
type Subscriber interface {
	Notify(page *gateway.Page, q query.Query)
}

// Config holds the scheduler tuning knobs. Zero values select defaults.
type Config struct {
	// TickInterval is the time between queue scans.
	TickInterval time.Duration

	// MaxConcurrency caps the number of fetches in flight.
	MaxConcurrency int

	// FirstFetchCount is the page size of a task's first execution.
	FirstFetchCount int

	// FirstFetchDelay is the reschedule delay after a task's first success.
	FirstFetchDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.FirstFetchCount < 1 {
		c.FirstFetchCount = DefaultFirstFetchCount
	}
	if c.FirstFetchDelay <= 0 {
		c.FirstFetchDelay = DefaultFirstFetchDelay
	}
	return c
}

// Scheduler owns the task store, the subscription registry and the
// time-ordered queue of tasks.
//
// There is one task per query fingerprint. Tasks are created on first
// subscription and live as long as the scheduler. Every tick pops the most
// overdue runnable tasks, up to the concurrency ceiling, and fetches them
// through the [gateway.Fetcher]. Results fan out to every subscriber of the
// task's fingerprint.
//
// No lock is held while calling subscribers or the fetcher, so subscribers
// may call Subscribe and Unsubscribe from inside Notify. All methods are
// safe for concurrent use.
type Scheduler struct {
	fetcher gateway.Fetcher
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	tasks    map[query.Fingerprint]*task
	subs     map[query.Fingerprint][]Subscriber
	queue    taskQueue
	seq      uint64
	inFlight int

	execs sync.WaitGroup

	// lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewScheduler creates a [Scheduler] fetching through f.
//
// Parameters:
//   - f: Fetcher used for every task execution, usually a [gateway.Client]
//   - cfg: Tuning knobs; zero fields select the Default* constants
//   - logger: Logger for fetch failures and panics (slog.Default() if nil)
//
// The scheduler does nothing until [Scheduler.Start] is called, or until
// [Scheduler.Tick] is driven manually.
func NewScheduler(f gateway.Fetcher, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fetcher: f,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     time.Now,
		tasks:   make(map[query.Fingerprint]*task),
		subs:    make(map[query.Fingerprint][]Subscriber),
	}
}

// Subscribe registers sub for the results of q.
//
// The first subscription to a fingerprint creates a task that is runnable
// immediately. When the task already holds a cached page, that page is
// delivered to sub before Subscribe returns and the task is made runnable
// immediately to fetch fresher data. Subscribing the same sub twice is a
// no-op apart from the cache delivery.
func (s *Scheduler) Subscribe(q query.Query, sub Subscriber) {
	fp := q.Fingerprint()

	s.mu.Lock()
	if !slices.Contains(s.subs[fp], sub) {
		s.subs[fp] = append(s.subs[fp], sub)
	}

	t, ok := s.tasks[fp]
	if !ok {
		t = newTask(q)
		s.tasks[fp] = t
		tasksGauge.Set(float64(len(s.tasks)))
	}

	cached := t.latest
	switch {
	case cached != nil:
		s.makeRunnable(t)
	case !t.queued() && !t.running:
		// new, or dropped from the queue while it had no subscribers
		s.enqueue(t)
	}
	registered := t.query
	s.mu.Unlock()

	if cached != nil {
		s.safeNotify(sub, cached, registered)
	}
}

// Unsubscribe removes sub from every subscriber set. Tasks are kept.
func (s *Scheduler) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for fp, subs := range s.subs {
		subs = slices.DeleteFunc(subs, func(other Subscriber) bool { return other == sub })
		if len(subs) == 0 {
			delete(s.subs, fp)
		} else {
			s.subs[fp] = subs
		}
	}
}

// NotifyChanged marks every task whose feed id is contained in feedID as
// due now and moves it to the front of the queue. It is the hook for local
// writes, and tolerates both bare and urn-prefixed ids.
func (s *Scheduler) NotifyChanged(feedID string) {
	if feedID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, t := range s.tasks {
		id := t.query.FeedID()
		if id == "" || !strings.Contains(feedID, id) {
			continue
		}
		t.lastUpdate = now
		s.makeRunnable(t)
		s.logger.Debug("task boosted", "query", string(t.fingerprint))
	}
}

// makeRunnable sets the task due immediately. A running task is requeued as
// due when its execution completes. Callers must hold s.mu.
func (s *Scheduler) makeRunnable(t *task) {
	t.noFetchBefore = time.Time{}
	if t.running {
		t.boosted = true
		return
	}
	s.enqueue(t)
}

// enqueue inserts or repositions t at its noFetchBefore as the most recent
// insertion. Callers must hold s.mu.
func (s *Scheduler) enqueue(t *task) {
	s.seq++
	t.seq = s.seq
	s.queue.upsert(t)
	queueGauge.Set(float64(s.queue.Len()))
}

// Tick starts every due task it can without exceeding the concurrency
// ceiling and returns the number started. Tasks without subscribers are
// dropped from the queue without counting against the ceiling.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	var due []*task

	s.mu.Lock()
	for s.inFlight < s.cfg.MaxConcurrency {
		t := s.queue.peek()
		if t == nil || t.noFetchBefore.After(now) {
			break
		}
		s.queue.pop()
		if len(s.subs[t.fingerprint]) == 0 {
			s.logger.Debug("task skipped: no subscribers", "query", string(t.fingerprint))
			continue
		}
		t.running = true
		s.inFlight++
		due = append(due, t)
	}
	inFlightGauge.Set(float64(s.inFlight))
	queueGauge.Set(float64(s.queue.Len()))
	s.execs.Add(len(due))
	s.mu.Unlock()

	for _, t := range due {
		go s.execute(ctx, t)
	}
	return len(due)
}

// Wait blocks until every task started by Tick has completed.
func (s *Scheduler) Wait() {
	s.execs.Wait()
}

// effectiveQuery returns the query a task fetches with: the first page size
// until the task has succeeded once, and only entries newer than the latest
// seen afterwards. Failed attempts do not count. Callers must hold s.mu.
func (s *Scheduler) effectiveQuery(t *task) query.Query {
	q := t.query
	if t.latestEntryID != "" {
		q = q.With(query.KeyAfter, t.latestEntryID)
	}
	if t.successes == 0 {
		q = q.WithCount(s.cfg.FirstFetchCount)
	}
	return q
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	defer s.execs.Done()

	s.mu.Lock()
	eq := s.effectiveQuery(t)
	s.mu.Unlock()

	page, err := s.fetcher.Fetch(ctx, eq)
	now := s.now()

	s.mu.Lock()
	var delay time.Duration
	if err != nil {
		fetchesTotal.WithLabelValues("error").Inc()
		staleness := DefaultStaleness
		if !t.lastUpdate.IsZero() {
			staleness = now.Sub(t.lastUpdate)
		}
		delay = Backoff(staleness)
		s.logger.Warn("task fetch failed",
			"query", string(t.fingerprint),
			"retry_in", delay,
			"error", err,
		)
	} else {
		if page == nil {
			page = gateway.NewPage(nil)
		}
		if entries := page.Entries(); len(entries) > 0 {
			fetchesTotal.WithLabelValues("entries").Inc()
			t.latestEntryID = entries[0].EntryID()
			t.latest = page
		} else {
			fetchesTotal.WithLabelValues("empty").Inc()
		}

		updated := contentUpdated(page, now)
		if t.successes == 0 {
			delay = s.cfg.FirstFetchDelay
		} else {
			delay = Backoff(now.Sub(updated))
		}
		t.lastUpdate = updated
		t.successes++
	}
	t.lastFetchedAt = now
	subs := slices.Clone(s.subs[t.fingerprint])
	registered := t.query
	s.mu.Unlock()

	if err == nil {
		for _, sub := range subs {
			s.safeNotify(sub, page, registered)
		}
	}

	s.mu.Lock()
	t.running = false
	s.inFlight--
	if t.boosted {
		t.boosted = false
		t.noFetchBefore = time.Time{}
	} else {
		t.noFetchBefore = now.Add(delay)
	}
	s.enqueue(t)
	inFlightGauge.Set(float64(s.inFlight))
	s.mu.Unlock()

	delayHistogram.Observe(delay.Seconds())
	s.logger.Debug("task rescheduled",
		"query", string(t.fingerprint),
		"entries", len(page.Entries()),
		"delay", delay,
	)
}

// safeNotify delivers a page with panic recovery. A panicking subscriber is
// logged with a correlation id and does not affect other subscribers.
func (s *Scheduler) safeNotify(sub Subscriber, page *gateway.Page, q query.Query) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			subscriberPanics.Inc()
			s.logger.Error("subscriber panic",
				"correlation_id", correlationID,
				"query", q.String(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	sub.Notify(page, q)
}

// Task returns a copy of the task state for q.
func (s *Scheduler) Task(q query.Query) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[q.Fingerprint()]
	if !ok {
		return TaskInfo{}, false
	}
	return t.info(), true
}

// TaskCount returns the number of tasks ever created.
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// QueueLen returns the number of queued tasks.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// InFlight returns the number of fetches in flight.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// SubscriberCount returns the number of subscribers for q.
func (s *Scheduler) SubscriberCount(q query.Query) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[q.Fingerprint()])
}

// Start runs the tick loop in a background goroutine.
//
// Start is non-blocking and returns immediately. The scheduler ticks once
// right away and then every TickInterval until [Scheduler.Stop] is called
// or ctx is cancelled.
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	loopCtx := s.ctx // capture under lock to avoid race
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		s.Tick(loopCtx)

		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.Tick(loopCtx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for in-flight fetches to complete.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.execs.Wait()
}
