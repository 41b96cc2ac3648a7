package evaluation

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/ricesearch/rice-eval/internal/domain"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/pkg/security"
	"github.com/ricesearch/rice-eval/internal/ratings"
)

// AsyncManager evaluates queries on two worker pools. The evaluation pool
// runs one task per query, which fans the versions out to the query pool and
// waits for all of them before rolling the query up.
type AsyncManager struct {
	base

	queryPool *ants.Pool
	evalPool  *ants.Pool

	// admitMu orders admissions against the move to draining, so Stop never
	// waits on dispatching while it can still grow.
	admitMu     sync.Mutex
	dispatching sync.WaitGroup

	// stopCtx is cancelled when Stop gives up waiting.
	stopCtx    context.Context
	stopCancel context.CancelFunc

	stopOnce   sync.Once
	stopResult StopResult
}

// PoolSizes splits threads between the query pool and the evaluation pool.
// The query pool never exceeds the number of versions; both get at least one
// worker.
func PoolSizes(threads, versions int) (queryPool, evalPool int) {
	queryPool = max(min(threads/2, versions), 1)
	evalPool = max(threads-queryPool, 1)
	return queryPool, evalPool
}

// NewAsyncManager creates an asynchronous manager.
func NewAsyncManager(opts Options) (*AsyncManager, error) {
	m := &AsyncManager{}
	m.init(opts, "async_evaluation")

	querySize, evalSize := PoolSizes(m.opts.Threads, len(m.opts.Versions))

	poolOpts := []ants.Option{
		ants.WithLogger(antsLogger{m.log}),
		ants.WithPanicHandler(func(p any) {
			m.fail(errors.InternalError(fmt.Sprintf("evaluation task panicked: %v", p), nil))
		}),
	}

	queryPool, err := ants.NewPool(querySize, poolOpts...)
	if err != nil {
		return nil, errors.InternalError("creating query pool", err)
	}
	evalPool, err := ants.NewPool(evalSize, poolOpts...)
	if err != nil {
		queryPool.Release()
		return nil, errors.InternalError("creating evaluation pool", err)
	}

	m.queryPool = queryPool
	m.evalPool = evalPool
	m.stopCtx, m.stopCancel = context.WithCancel(context.Background())

	m.log.Debug("Async evaluation pools created",
		"query_pool", querySize,
		"evaluation_pool", evalSize,
	)
	return m, nil
}

// QueryPoolSize returns the capacity of the per-version pool.
func (m *AsyncManager) QueryPoolSize() int {
	return m.queryPool.Cap()
}

// EvalPoolSize returns the capacity of the per-query pool.
func (m *AsyncManager) EvalPoolSize() int {
	return m.evalPool.Cap()
}

// EvaluateQuery schedules q and returns without waiting for a worker. Queries
// admitted while the evaluation pool is saturated queue until a worker frees
// up.
func (m *AsyncManager) EvaluateQuery(ctx context.Context, q *domain.Query, indexName string, def ratings.Query, defaultTemplate string, relevantDocCount int) error {
	m.admitMu.Lock()
	if err := m.begin(); err != nil {
		m.admitMu.Unlock()
		return err
	}
	m.dispatching.Add(1)
	m.admitMu.Unlock()

	go func() {
		defer m.dispatching.Done()
		err := m.evalPool.Submit(func() {
			m.evaluate(ctx, q, indexName, def, defaultTemplate, relevantDocCount)
		})
		if err == nil {
			return
		}
		if m.stopCtx.Err() != nil {
			m.abandoned.Add(1)
			m.log.Warn("Query dropped by forced stop", "query", security.SanitizeForLog(q.Name()))
			return
		}
		m.abandon(errors.Wrap(errors.CodeInterrupted, "submitting query "+q.Name(), err))
	}()
	return nil
}

// evaluate runs on the evaluation pool.
func (m *AsyncManager) evaluate(ctx context.Context, q *domain.Query, indexName string, def ratings.Query, defaultTemplate string, relevantDocCount int) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.stopCtx, cancel)
	defer stop()

	var (
		wg       sync.WaitGroup
		fatalErr atomic.Pointer[error]
	)
	setFatal := func(err error) {
		fatalErr.CompareAndSwap(nil, &err)
	}

	for _, version := range m.opts.Versions {
		wg.Add(1)
		err := m.queryPool.Submit(func() {
			defer wg.Done()
			err := m.execute(ctx, q, indexName, version, def, defaultTemplate, relevantDocCount)
			switch {
			case err == nil:
			case ctx.Err() != nil, stderrors.Is(err, domain.ErrAlreadyCollected):
				// Interrupted; the barrier below accounts for it.
			default:
				setFatal(err)
			}
		})
		if err != nil {
			wg.Done()
			setFatal(errors.Wrap(errors.CodeInterrupted, "submitting version "+version, err))
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.log.Error("Interrupted waiting for versions to execute",
			"query", security.SanitizeForLog(q.Name()),
			"error", context.Cause(ctx).Error(),
		)
		q.MarkInterrupted(m.opts.Versions)
	}

	if errp := fatalErr.Load(); errp != nil {
		m.abandon(*errp)
		return
	}
	m.complete(ctx, q)
}

// Stop refuses new queries and waits up to the shutdown timeout for the
// outstanding ones. In-flight work still running at the deadline is
// cancelled and abandoned. Stop is idempotent.
func (m *AsyncManager) Stop() StopResult {
	m.stopOnce.Do(func() {
		m.admitMu.Lock()
		m.state.Store(int32(StateDraining))
		m.admitMu.Unlock()

		m.log.Info("Waiting for asynchronous query evaluation to stop",
			"remaining", m.QueriesRemaining(),
			"timeout", m.opts.ShutdownTimeout.String(),
		)

		deadline := time.Now().Add(m.opts.ShutdownTimeout)

		// Queued queries still submit to the evaluation pool, whose tasks
		// submit to the query pool, so the pools close in that order.
		forced := !waitUntil(&m.dispatching, deadline)
		if !forced {
			forced = !releaseBy(m.evalPool, deadline)
		}
		if !forced {
			forced = !releaseBy(m.queryPool, deadline)
		}
		m.stopCancel()
		if forced {
			m.evalPool.Release()
			m.queryPool.Release()
		}

		m.stopResult = StopResult{
			Completed: !forced && m.QueriesRemaining() == 0,
			Forced:    forced,
		}
		m.state.Store(int32(StateStopped))

		if forced {
			m.log.Warn("Shutdown timeout reached, forcing evaluation stop",
				"completed", m.QueriesCompleted(),
				"total", m.TotalQueries(),
			)
		} else {
			m.log.Info("All evaluation workers stopped within timeout",
				"completed", m.QueriesCompleted(),
				"total", m.TotalQueries(),
			)
		}
	})
	return m.stopResult
}

// waitUntil waits for wg until deadline and reports whether it finished.
func waitUntil(wg *sync.WaitGroup, deadline time.Time) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// releaseBy closes p and reports whether its workers exited before deadline.
func releaseBy(p *ants.Pool, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	return p.ReleaseTimeout(remaining) == nil
}

// antsLogger routes pool diagnostics to the structured logger.
type antsLogger struct {
	log *logger.Logger
}

func (l antsLogger) Printf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
