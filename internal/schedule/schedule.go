package schedule

import (
	"context"
	"dqaudit/internal/engine"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned for cron expressions that do not parse.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Runner executes one batch. *engine.Engine implements it.
type Runner interface {
	Execute(ctx context.Context, selector string) (engine.Evaluation, error)
}

// ResultFunc observes the outcome of every scheduled batch.
type ResultFunc func(ev engine.Evaluation, err error)

// parser accepts standard five-field expressions, an optional leading
// seconds field, and descriptors such as @hourly or @every 15m.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs batches on a cron schedule. A batch still running when the
// next tick fires causes that tick to be skipped.
type Scheduler struct {
	runner   Runner
	selector string
	timeout  time.Duration
	onResult ResultFunc

	cron    *cron.Cron
	entry   cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

type Option func(*Scheduler)

// WithSelector restricts scheduled batches to a rule selection.
func WithSelector(selector string) Option {
	return func(s *Scheduler) { s.selector = selector }
}

// WithTimeout bounds every scheduled batch.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

func WithResultFunc(fn ResultFunc) Option {
	return func(s *Scheduler) { s.onResult = fn }
}

func New(runner Runner, spec string, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("schedule runner is nil")
	}
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, spec, err)
	}

	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:  runner,
		timeout: 10 * time.Minute,
		ctx:     ctx,
		cancel:  cancel,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
	for _, opt := range opts {
		opt(s)
	}

	id, err := s.cron.AddFunc(spec, s.RunOnce)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, spec, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.cron.Start()
	s.started = true
	slog.Info("scheduler started", "next", s.cron.Entry(s.entry).Next)
	return nil
}

// Stop cancels a running batch and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// Next is the time of the next scheduled batch, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// RunOnce executes one batch synchronously, as a cron tick does.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	ev, err := s.runner.Execute(ctx, s.selector)
	if err != nil {
		slog.Error("scheduled batch failed", "error", err, "duration", time.Since(start))
	} else {
		slog.Info("scheduled batch committed",
			"batch_id", ev.BatchID,
			"passed", ev.Summary.Passed,
			"failed", ev.Summary.Failed,
			"unknown", ev.Summary.Unknown,
			"erroring", ev.Summary.Erroring,
			"duration", time.Since(start),
		)
	}
	if s.onResult != nil {
		s.onResult(ev, err)
	}
}
