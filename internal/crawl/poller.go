// Package crawl drives web crawls for agents: it starts crawl jobs and polls
// their status until every produced record has finished scraping.
package crawl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/agent-playground/internal/observability/metrics"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

// DefaultInterval is the delay between two status checks.
const DefaultInterval = 30 * time.Second

// ErrAlreadyPolling is returned when a crawl is already being polled.
var ErrAlreadyPolling = errors.New("crawl: a crawl is already in progress")

// State is the lifecycle state of a Poller.
type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

// StatusChecker reports the records a crawl job has produced so far.
type StatusChecker interface {
	JobStatus(ctx context.Context, jobID string) ([]playground.TrainingRecord, error)
}

// Ticker is the subset of time.Ticker used by the poller.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

// CompleteFunc is invoked once when a job's records have all been scraped.
type CompleteFunc func(job playground.CrawlJob, records []playground.TrainingRecord)

// Status is a point-in-time view of a poller.
type Status struct {
	State     State                       `json:"state"`
	Job       playground.CrawlJob         `json:"job"`
	Checks    int                         `json:"checks"`
	Records   []playground.TrainingRecord `json:"records,omitempty"`
	LastError string                      `json:"last_error,omitempty"`
}

// Poller checks one crawl job's status on a fixed interval until the job's
// records are all scraped, or until it is stopped. Status check errors are
// logged and the next tick retries.
type Poller struct {
	checker    StatusChecker
	logger     *logging.Logger
	metrics    *metrics.PlaygroundMetrics
	interval   time.Duration
	newTicker  func(time.Duration) Ticker
	onComplete CompleteFunc
	now        func() time.Time

	mu      sync.Mutex
	state   State
	job     playground.CrawlJob
	checks  int
	records []playground.TrainingRecord
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPoller(checker StatusChecker, logger *logging.Logger) *Poller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Poller{
		checker:   checker,
		logger:    logger,
		interval:  DefaultInterval,
		newTicker: newTimeTicker,
		now:       time.Now,
		state:     StateIdle,
	}
}

func (p *Poller) WithInterval(d time.Duration) *Poller {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *Poller) WithMetrics(m *metrics.PlaygroundMetrics) *Poller {
	p.metrics = m
	return p
}

func (p *Poller) OnComplete(fn CompleteFunc) *Poller {
	p.onComplete = fn
	return p
}

// Start begins polling job in the background. Only one job may be polled at
// a time; a second Start while polling returns ErrAlreadyPolling.
func (p *Poller) Start(ctx context.Context, job playground.CrawlJob) error {
	if job.JobID == "" {
		return errors.New("crawl: job id required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePolling {
		return ErrAlreadyPolling
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = p.now()
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.state = StatePolling
	p.job = job
	p.checks = 0
	p.records = nil
	p.lastErr = nil
	p.cancel = cancel
	p.done = make(chan struct{})

	ticker := p.newTicker(p.interval)
	go p.run(runCtx, job, ticker, p.done)
	return nil
}

// Stop cancels an active poll. It is a no-op when nothing is polling.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current poll loop, if any, has exited.
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot of the poller.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		State:   p.state,
		Job:     p.job,
		Checks:  p.checks,
		Records: append([]playground.TrainingRecord(nil), p.records...),
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

func (p *Poller) run(ctx context.Context, job playground.CrawlJob, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	log := p.logger.With("job_id", job.JobID, "agent_id", job.AgentID)
	log.Info("crawl polling started", "interval", p.interval.String())

	for {
		select {
		case <-ctx.Done():
			p.finish(StateStopped)
			log.Info("crawl polling stopped")
			return
		case <-ticker.C():
			if p.check(ctx, job, log) {
				return
			}
		}
	}
}

// check performs one status check and reports whether polling is finished.
func (p *Poller) check(ctx context.Context, job playground.CrawlJob, log *logging.Logger) bool {
	records, err := p.checker.JobStatus(ctx, job.JobID)

	p.mu.Lock()
	p.checks++
	attempt := p.checks
	if err != nil {
		p.lastErr = err
		p.mu.Unlock()
		if ctx.Err() == nil {
			log.Warn("crawl status check failed", "error", err, "attempt", attempt)
			p.metrics.ObserveCrawlPoll("error")
		}
		return false
	}
	p.lastErr = nil
	p.records = records
	p.mu.Unlock()

	if !playground.AllScraped(records, job.AgentID) {
		log.Debug("crawl still in progress", "attempt", attempt, "records", len(records))
		p.metrics.ObserveCrawlPoll("pending")
		return false
	}

	p.metrics.ObserveCrawlPoll("complete")
	p.metrics.ObserveCrawlDuration(p.now().Sub(job.StartedAt).Seconds())
	p.finish(StateCompleted)
	log.Info("crawl completed", "attempts", attempt, "records", len(records))
	if p.onComplete != nil {
		p.onComplete(job, records)
	}
	return true
}

func (p *Poller) finish(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
