// Package engine drives one evaluation run: it reads the ratings, loads the
// corpus into every configured version and hands each query to a manager.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/domain"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/platform"
	"github.com/ricesearch/rice-eval/internal/ratings"
	"github.com/ricesearch/rice-eval/internal/scoring"
)

// Folders locate the inputs of a run.
type Folders struct {
	Configurations string
	Corpora        string
	Ratings        string
	Templates      string
}

// ManagerFactory creates the manager for a run once its versions are known.
type ManagerFactory func(versions []string) (evaluation.Manager, error)

// Recorder receives engine telemetry.
type Recorder interface {
	RecordIndexLoad(version string, latency time.Duration)
	RecordScore(metric, version string, value float64)
}

// Options configure an Engine.
type Options struct {
	Folders  Folders
	Metrics  []string
	Platform platform.Platform

	NewManager ManagerFactory

	// Async is reported in the started event.
	Async bool

	// LoadConcurrency bounds parallel corpus loads. Zero loads every version
	// at once.
	LoadConcurrency int

	Bus      bus.Bus
	RunID    string
	Recorder Recorder
	Logger   *logger.Logger
}

// Engine runs evaluations.
type Engine struct {
	opts Options
	log  *logger.Logger
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Bus == nil {
		opts.Bus = bus.Nop{}
	}
	return &Engine{
		opts: opts,
		log:  opts.Logger.WithComponent("engine"),
	}
}

// Evaluate executes the whole run and returns the result tree. The tree is
// returned alongside a manager error so partial results can still be
// reported.
func (e *Engine) Evaluate(ctx context.Context) (*domain.Evaluation, error) {
	start := time.Now()

	r, err := ratings.Load(e.opts.Folders.Ratings)
	if err != nil {
		return nil, err
	}
	if err := scoring.Validate(e.opts.Metrics); err != nil {
		return nil, err
	}

	versions, err := DiscoverVersions(e.opts.Folders.Configurations, r.Index)
	if err != nil {
		return nil, err
	}

	corpusFile := filepath.Join(e.opts.Folders.Corpora, r.CollectionFile)
	if e.opts.Platform.RequiresCorpus() {
		if err := checkReadable(corpusFile); err != nil {
			return nil, err
		}
	}

	e.log.Info("Starting evaluation",
		"index", r.Index,
		"corpus", r.CollectionFile,
		"versions", len(versions),
		"queries", r.QueryCount(),
		"platform", e.opts.Platform.Name(),
	)

	if err := e.loadVersions(ctx, corpusFile, r.Index, versions); err != nil {
		return nil, err
	}

	manager, err := e.opts.NewManager(versions)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, bus.TopicEvaluationStarted, bus.EvaluationStarted{
		Corpus:       r.CollectionFile,
		Index:        r.Index,
		Versions:     versions,
		Metrics:      e.opts.Metrics,
		TotalQueries: r.QueryCount(),
		Async:        e.opts.Async,
	})

	eval := domain.NewEvaluation()
	configuration := eval.
		FindOrCreateCorpus(filepath.Base(r.CollectionFile)).
		FindOrCreateConfiguration(r.Index)

	runErr := e.submit(ctx, manager, configuration, r, versions)

	result := manager.Stop()
	if runErr == nil {
		runErr = manager.Err()
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = errors.Wrap(errors.CodeInterrupted, "evaluation cancelled", ctx.Err())
	}

	e.recordScores(eval)
	e.finish(ctx, eval, manager, result, time.Since(start), runErr)

	return eval, runErr
}

// submit walks the ratings and hands every query to manager. It stops at the
// first submission error.
func (e *Engine) submit(ctx context.Context, manager evaluation.Manager, configuration *domain.Configuration, r *ratings.Ratings, versions []string) error {
	for _, t := range r.Topics {
		topic := configuration.FindOrCreateTopic(t.Description)
		for _, g := range t.QueryGroups {
			group := topic.FindOrCreateQueryGroup(g.Name)
			for i, def := range g.Queries {
				if err := ctx.Err(); err != nil {
					return errors.Wrap(errors.CodeInterrupted, "evaluation cancelled", err)
				}

				metrics, err := scoring.Build(e.opts.Metrics, r.IDField, g.RelevantDocuments, versions)
				if err != nil {
					return err
				}
				q := group.FindOrCreateQuery(uniqueQueryName(group, QueryName(def, g.Template), i), metrics)

				if err := manager.EvaluateQuery(ctx, q, r.Index, def, g.Template, len(g.RelevantDocuments)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// loadVersions loads the corpus into one index per version.
func (e *Engine) loadVersions(ctx context.Context, corpusFile, index string, versions []string) error {
	g, gctx := errgroup.WithContext(ctx)
	if e.opts.LoadConcurrency > 0 {
		g.SetLimit(e.opts.LoadConcurrency)
	}

	var loaded atomic.Int32
	for _, version := range versions {
		g.Go(func() error {
			settings := filepath.Join(e.opts.Folders.Configurations, version, index)
			indexName := platform.IndexName(index, version)

			start := time.Now()
			if err := e.opts.Platform.Load(gctx, corpusFile, settings, indexName, version); err != nil {
				return errors.Wrap(errors.CodeConfiguration, fmt.Sprintf("loading corpus into %s", indexName), err)
			}
			if e.opts.Recorder != nil {
				e.opts.Recorder.RecordIndexLoad(version, time.Since(start))
			}
			loaded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.log.Debug("Corpus loaded", "versions", loaded.Load())
	return nil
}

func (e *Engine) recordScores(eval *domain.Evaluation) {
	if e.opts.Recorder == nil {
		return
	}
	for _, m := range eval.Metrics() {
		for _, v := range m.Versions() {
			e.opts.Recorder.RecordScore(m.Name(), v, m.Value(v).InexactFloat64())
		}
	}
}

func (e *Engine) finish(ctx context.Context, eval *domain.Evaluation, manager evaluation.Manager, result evaluation.StopResult, elapsed time.Duration, runErr error) {
	payload := bus.EvaluationFinished{
		Completed:  manager.QueriesCompleted(),
		Total:      manager.TotalQueries(),
		Forced:     result.Forced,
		DurationMs: elapsed.Milliseconds(),
		Metrics:    make(map[string]map[string]string),
	}
	for _, m := range eval.Metrics() {
		values := make(map[string]string)
		for _, v := range m.Versions() {
			values[v] = m.Value(v).String()
		}
		payload.Metrics[m.Name()] = values
	}
	if runErr != nil {
		payload.Error = runErr.Error()
	}
	e.publish(ctx, bus.TopicEvaluationFinished, payload)

	log := e.log
	if runErr != nil {
		log = log.WithError(runErr)
	}
	log.Info("Evaluation finished",
		"completed", payload.Completed,
		"total", payload.Total,
		"forced", payload.Forced,
		"duration_ms", payload.DurationMs,
	)
}

func (e *Engine) publish(ctx context.Context, topic string, payload any) {
	event := bus.NewEvent(topic, "engine", e.opts.RunID, payload)
	if err := e.opts.Bus.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
		e.log.WithError(err).Warn("Failed to publish event", "topic", topic)
	}
}

// DiscoverVersions returns the sorted names of the subfolders of folder that
// contain an entry named index.
func DiscoverVersions(folder, index string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, errors.ConfigurationError(fmt.Sprintf("unable to read configurations folder %s", folder), err)
	}

	var versions []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(folder, entry.Name(), index)); err == nil {
			versions = append(versions, entry.Name())
		}
	}
	if len(versions) == 0 {
		return nil, errors.ConfigurationError(
			fmt.Sprintf("no version under %s configures index %q", folder, index), nil)
	}

	sort.Strings(versions)
	return versions, nil
}

// QueryName names a query node by its template, followed by its placeholders
// when it has any.
func QueryName(def ratings.Query, defaultTemplate string) string {
	name := def.Template
	if name == "" {
		name = defaultTemplate
	}
	if len(def.Placeholders) > 0 {
		data, err := def.Placeholders.MarshalJSON()
		if err == nil {
			name += "|" + string(data)
		}
	}
	return name
}

// uniqueQueryName appends the position of the query in its group when name
// is already taken, so every ratings entry gets its own node.
func uniqueQueryName(group *domain.QueryGroup, name string, position int) string {
	if _, taken := group.Query(name); !taken {
		return name
	}
	for n := position + 1; ; n++ {
		candidate := fmt.Sprintf("%s#%d", name, n)
		if _, taken := group.Query(candidate); !taken {
			return candidate
		}
	}
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.ConfigurationError(fmt.Sprintf("unable to read the corpus file %s", path), err)
	}
	return f.Close()
}
