// Package evaluation executes each query against every platform version and
// feeds the answers to the query's metrics.
package evaluation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/domain"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/pkg/security"
	"github.com/ricesearch/rice-eval/internal/platform"
	"github.com/ricesearch/rice-eval/internal/ratings"
	"github.com/ricesearch/rice-eval/internal/template"
)

// MinRows is the smallest number of hits requested per query.
const MinRows = 10

// DefaultShutdownTimeout bounds how long Stop waits for queued work.
const DefaultShutdownTimeout = 30 * time.Second

// Manager schedules query evaluations.
type Manager interface {
	// EvaluateQuery runs def against every version and records the results
	// on q. Managers may return before the work is done.
	EvaluateQuery(ctx context.Context, q *domain.Query, indexName string, def ratings.Query, defaultTemplate string, relevantDocCount int) error

	// IsRunning reports whether submitted queries are still outstanding.
	IsRunning() bool

	TotalQueries() int64
	QueriesCompleted() int64
	QueriesRemaining() int64

	// Stop refuses new work and waits for outstanding work.
	Stop() StopResult

	// Err returns the first fatal error, if any.
	Err() error

	State() State
}

// State is the manager lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopResult reports how Stop ended.
type StopResult struct {
	// Completed is true when every submitted query finished.
	Completed bool
	// Forced is true when the shutdown timeout expired first.
	Forced bool
}

// ErrStopped is returned by EvaluateQuery after Stop.
var ErrStopped = errors.New(errors.CodeInterrupted, "evaluation manager is stopped")

// Recorder receives run telemetry.
type Recorder interface {
	RecordSubmitted()
	RecordExecution(version, status string, latency time.Duration, err error)
	RecordCompleted()
}

// Options configure a Manager.
type Options struct {
	Platform  platform.Platform
	Templates template.Resolver

	// Versions are the platform versions every query runs against.
	Versions []string

	// Fields restricts the hit fields requested; empty requests all.
	Fields []string

	// Threads sizes the async pools.
	Threads int

	// ShutdownTimeout bounds Stop. Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Bus receives a progress event per completed query. Optional.
	Bus   bus.Bus
	RunID string

	// Recorder receives telemetry. Optional.
	Recorder Recorder

	// OnComplete runs after a query's metrics are rolled up. Optional.
	OnComplete func(q *domain.Query)

	Logger *logger.Logger
}

// base holds what both managers share: execution, completion and counters.
type base struct {
	opts Options
	log  *logger.Logger

	state     atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	abandoned atomic.Int64

	errMu sync.Mutex
	err   error
}

func (b *base) init(opts Options, component string) {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Bus == nil {
		opts.Bus = bus.Nop{}
	}
	b.opts = opts
	b.log = opts.Logger.WithComponent(component)
}

// begin admits a query, moving Idle to Running.
func (b *base) begin() error {
	for {
		s := State(b.state.Load())
		switch s {
		case StateIdle:
			if !b.state.CompareAndSwap(int32(s), int32(StateRunning)) {
				continue
			}
		case StateRunning:
		default:
			return ErrStopped
		}
		b.submitted.Add(1)
		if b.opts.Recorder != nil {
			b.opts.Recorder.RecordSubmitted()
		}
		return nil
	}
}

// execute runs def against one version and records the answer on q.
// Transient platform failures are recorded as an empty result; every other
// failure is returned.
func (b *base) execute(ctx context.Context, q *domain.Query, indexName, version string, def ratings.Query, defaultTemplate string, relevantDocCount int) error {
	log := b.log.WithVersion(version).WithQuery(security.SanitizeForLog(q.Name()))

	content, err := b.opts.Templates.Resolve(defaultTemplate, def.Template, version)
	if err != nil {
		return err
	}
	query := template.Substitute(content, def.Placeholders)

	maxRows := max(MinRows, relevantDocCount)

	start := time.Now()
	resp, err := b.opts.Platform.ExecuteQuery(ctx, platform.IndexName(indexName, version), version, query, b.opts.Fields, maxRows)
	latency := time.Since(start)

	status := domain.StatusOK
	if err != nil {
		if !errors.IsTransient(err) {
			b.record(version, statusFailed, latency, err)
			return err
		}
		log.WithError(err).Warn("Platform failure, recording an empty result")
		status = domain.StatusPlatformError
		resp = platform.Response{}
	}
	b.record(version, string(status), latency, err)

	if err := q.Record(version, resp.TotalHits, resp.Hits, status); err != nil {
		return err
	}

	log.Debug("Query executed",
		"total_hits", resp.TotalHits,
		"hits", len(resp.Hits),
		"latency_ms", latency.Milliseconds(),
	)
	return nil
}

// statusFailed labels executions that aborted the run.
const statusFailed = "failed"

func (b *base) record(version, status string, latency time.Duration, err error) {
	if b.opts.Recorder != nil {
		b.opts.Recorder.RecordExecution(version, status, latency, err)
	}
}

// complete rolls q up, then notifies listeners.
func (b *base) complete(ctx context.Context, q *domain.Query) {
	q.NotifyCollectedMetrics()
	done := b.completed.Add(1)

	if b.opts.Recorder != nil {
		b.opts.Recorder.RecordCompleted()
	}
	if b.opts.OnComplete != nil {
		b.opts.OnComplete(q)
	}

	payload := bus.QueryCompleted{
		QueryGroup: q.Group().Name(),
		Query:      q.Name(),
		Statuses:   make(map[string]string, len(b.opts.Versions)),
		Completed:  done,
		Total:      b.submitted.Load(),
	}
	if topic := q.Group().Topic(); topic != nil {
		payload.Topic = topic.Name()
		if cfg := topic.Configuration(); cfg != nil {
			payload.Configuration = cfg.Name()
		}
	}
	for _, v := range q.RecordedVersions() {
		s, _ := q.Status(v)
		payload.Statuses[v] = string(s)
	}

	event := bus.NewEvent(bus.TopicQueryCompleted, "evaluation", b.opts.RunID, payload)
	if err := b.opts.Bus.Publish(context.WithoutCancel(ctx), bus.TopicQueryCompleted, event); err != nil {
		b.log.WithError(err).Warn("Failed to publish query completion", "query", security.SanitizeForLog(q.Name()))
	}
}

// abandon settles a query that failed before completion.
func (b *base) abandon(err error) {
	b.abandoned.Add(1)
	b.fail(err)
}

// fail keeps the first fatal error.
func (b *base) fail(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

// Err returns the first fatal error.
func (b *base) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// TotalQueries returns the number of queries submitted.
func (b *base) TotalQueries() int64 {
	return b.submitted.Load()
}

// QueriesCompleted returns the number of queries rolled up.
func (b *base) QueriesCompleted() int64 {
	return b.completed.Load()
}

// QueriesRemaining returns the number of queries neither completed nor
// abandoned.
func (b *base) QueriesRemaining() int64 {
	return b.submitted.Load() - b.completed.Load() - b.abandoned.Load()
}

// IsRunning reports whether submitted queries are still outstanding.
func (b *base) IsRunning() bool {
	return b.QueriesRemaining() > 0
}

// State returns the lifecycle state.
func (b *base) State() State {
	return State(b.state.Load())
}
