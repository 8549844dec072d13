package crawl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/agent-playground/internal/observability/metrics"
	"github.com/wolfman30/agent-playground/internal/playground"
	"github.com/wolfman30/agent-playground/internal/scraper"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

// Starter starts crawl jobs.
type Starter interface {
	StartCrawl(ctx context.Context, req scraper.StartRequest) (string, error)
}

// Locker guards against concurrent crawls of the same agent across service
// instances.
type Locker interface {
	Acquire(ctx context.Context, agentID, holder string) (bool, error)
	Rebind(ctx context.Context, agentID, from, to string) error
	Release(ctx context.Context, agentID, holder string) error
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Starter    Starter
	Checker    StatusChecker
	Locker     Locker
	Logger     *logging.Logger
	Metrics    *metrics.PlaygroundMetrics
	Interval   time.Duration
	MaxPages   int
	OnComplete CompleteFunc
	NewPoller  func() *Poller
}

// Service runs at most one crawl poller per agent.
type Service struct {
	starter    Starter
	checker    StatusChecker
	locker     Locker
	logger     *logging.Logger
	metrics    *metrics.PlaygroundMetrics
	maxPages   int
	onComplete CompleteFunc
	newPoller  func() *Poller

	mu       sync.Mutex
	pollers  map[string]*Poller
	starting map[string]bool
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		starter:    cfg.Starter,
		checker:    cfg.Checker,
		locker:     cfg.Locker,
		logger:     logger,
		metrics:    cfg.Metrics,
		maxPages:   cfg.MaxPages,
		onComplete: cfg.OnComplete,
		newPoller:  cfg.NewPoller,
		pollers:    make(map[string]*Poller),
		starting:   make(map[string]bool),
	}
	if s.newPoller == nil {
		s.newPoller = func() *Poller {
			p := NewPoller(s.checker, s.logger).WithMetrics(s.metrics)
			return p.WithInterval(cfg.Interval)
		}
	}
	return s
}

// Start kicks off a crawl of url for agentID and begins polling it. The
// poller outlives ctx; use Stop or Close to cancel it.
func (s *Service) Start(ctx context.Context, agentID, url string) (playground.CrawlJob, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return playground.CrawlJob{}, errors.New("crawl: agent id required")
	}
	url, err := scraper.NormalizeURL(url)
	if err != nil {
		return playground.CrawlJob{}, err
	}

	if err := s.reserve(agentID); err != nil {
		return playground.CrawlJob{}, err
	}
	defer s.unreserve(agentID)
	p := s.newPoller()

	provisional := "pending-" + uuid.NewString()
	if s.locker != nil {
		ok, err := s.locker.Acquire(ctx, agentID, provisional)
		if err != nil {
			return playground.CrawlJob{}, err
		}
		if !ok {
			return playground.CrawlJob{}, ErrAlreadyPolling
		}
	}

	jobID, err := s.starter.StartCrawl(ctx, scraper.StartRequest{URL: url, AgentID: agentID, MaxPages: s.maxPages})
	if err != nil {
		s.release(ctx, agentID, provisional)
		return playground.CrawlJob{}, err
	}
	if s.locker != nil {
		if err := s.locker.Rebind(ctx, agentID, provisional, jobID); err != nil {
			s.logger.Warn("crawl lock rebind failed", "agent_id", agentID, "job_id", jobID, "error", err)
		}
	}

	job := playground.CrawlJob{JobID: jobID, AgentID: agentID, URL: url}
	p.OnComplete(func(job playground.CrawlJob, records []playground.TrainingRecord) {
		s.release(context.Background(), job.AgentID, job.JobID)
		if s.onComplete != nil {
			s.onComplete(job, records)
		}
	})
	if err := p.Start(context.WithoutCancel(ctx), job); err != nil {
		s.release(ctx, agentID, jobID)
		return playground.CrawlJob{}, err
	}
	s.mu.Lock()
	s.pollers[agentID] = p
	s.mu.Unlock()
	s.logger.Info("crawl started", "agent_id", agentID, "job_id", jobID, "url", url)
	return p.Status().Job, nil
}

// reserve claims the agent's start slot. It fails while another Start for the
// agent is in flight or its poller is still polling.
func (s *Service) reserve(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starting[agentID] {
		return ErrAlreadyPolling
	}
	if p, ok := s.pollers[agentID]; ok && p.Status().State == StatePolling {
		return ErrAlreadyPolling
	}
	s.starting[agentID] = true
	return nil
}

func (s *Service) unreserve(agentID string) {
	s.mu.Lock()
	delete(s.starting, agentID)
	s.mu.Unlock()
}

// Status returns the poller status for agentID.
func (s *Service) Status(agentID string) (Status, bool) {
	s.mu.Lock()
	p, ok := s.pollers[agentID]
	s.mu.Unlock()
	if !ok {
		return Status{State: StateIdle}, false
	}
	return p.Status(), true
}

// Wait blocks until the agent's current poller has exited.
func (s *Service) Wait(agentID string) {
	s.mu.Lock()
	p, ok := s.pollers[agentID]
	s.mu.Unlock()
	if ok {
		p.Wait()
	}
}

// Stop cancels polling for agentID and releases its crawl flag.
func (s *Service) Stop(agentID string) {
	s.mu.Lock()
	p, ok := s.pollers[agentID]
	s.mu.Unlock()
	if !ok {
		return
	}
	job := p.Status().Job
	p.Stop()
	p.Wait()
	s.release(context.Background(), agentID, job.JobID)
}

// Close stops every poller.
func (s *Service) Close() {
	s.mu.Lock()
	agents := make([]string, 0, len(s.pollers))
	for id := range s.pollers {
		agents = append(agents, id)
	}
	s.mu.Unlock()
	for _, id := range agents {
		s.Stop(id)
	}
}

func (s *Service) release(ctx context.Context, agentID, holder string) {
	if s.locker == nil || holder == "" {
		return
	}
	if err := s.locker.Release(ctx, agentID, holder); err != nil {
		s.logger.Warn("crawl lock release failed", "agent_id", agentID, "error", err)
	}
}
