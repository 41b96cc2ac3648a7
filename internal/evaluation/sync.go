package evaluation

import (
	"context"

	"github.com/ricesearch/rice-eval/internal/domain"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/ratings"
)

// SyncManager evaluates each query inline, versions in declaration order.
type SyncManager struct {
	base
}

// NewSyncManager creates a synchronous manager.
func NewSyncManager(opts Options) *SyncManager {
	m := &SyncManager{}
	m.init(opts, "sync_evaluation")
	return m
}

// EvaluateQuery runs def against every version before returning. The first
// fatal error is returned and kept.
func (m *SyncManager) EvaluateQuery(ctx context.Context, q *domain.Query, indexName string, def ratings.Query, defaultTemplate string, relevantDocCount int) error {
	if err := m.begin(); err != nil {
		return err
	}

	for i, version := range m.opts.Versions {
		err := ctx.Err()
		if err == nil {
			err = m.execute(ctx, q, indexName, version, def, defaultTemplate, relevantDocCount)
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			// Cancellation ends the run but keeps what was collected.
			q.MarkInterrupted(m.opts.Versions[i:])
			m.complete(ctx, q)
			return errors.Wrap(errors.CodeInterrupted, "evaluation cancelled", ctx.Err())
		}
		m.abandon(err)
		return err
	}

	m.complete(ctx, q)
	return nil
}

// Stop refuses further queries. Every accepted query has already finished.
func (m *SyncManager) Stop() StopResult {
	m.state.Store(int32(StateStopped))
	result := StopResult{Completed: m.QueriesRemaining() == 0}
	m.log.Info("Evaluation manager stopped",
		"completed", m.QueriesCompleted(),
		"total", m.TotalQueries(),
	)
	return result
}
