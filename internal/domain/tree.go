// Package domain holds the evaluation result tree:
// Evaluation → Corpus → Configuration → Topic → QueryGroup → Query.
//
// Composite nodes own their children by name, created on first lookup and
// kept in insertion order, plus one AveragedMetric per metric name fed by
// the queries below them.
package domain

import (
	"encoding/json"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ricesearch/rice-eval/internal/scoring"
)

// children is an ordered name → node map.
type children[T any] struct {
	mu     sync.Mutex
	order  []*T
	byName map[string]*T
}

func (c *children[T]) findOrCreate(name string, create func() *T) *T {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.byName[name]; ok {
		return n
	}
	if c.byName == nil {
		c.byName = make(map[string]*T)
	}
	n := create()
	c.byName[name] = n
	c.order = append(c.order, n)
	return n
}

func (c *children[T]) get(name string) (*T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.byName[name]
	return n, ok
}

func (c *children[T]) list() []*T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*T(nil), c.order...)
}

// aggregate is the rollup state shared by every composite node.
type aggregate struct {
	name string

	mu      sync.Mutex
	names   []string
	metrics map[string]*scoring.AveragedMetric
}

func newAggregate(name string) aggregate {
	return aggregate{name: name, metrics: make(map[string]*scoring.AveragedMetric)}
}

// Name returns the node name.
func (a *aggregate) Name() string {
	return a.name
}

// averaged returns the rollup accumulator for metric, creating it on first use.
func (a *aggregate) averaged(metric string) *scoring.AveragedMetric {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.metrics[metric]
	if !ok {
		m = scoring.NewAveragedMetric(metric)
		a.metrics[metric] = m
		a.names = append(a.names, metric)
	}
	return m
}

// Metric returns the rollup of the named metric.
func (a *aggregate) Metric(name string) (*scoring.AveragedMetric, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.metrics[name]
	return m, ok
}

// Metrics returns the node's rollups in the order they were first fed.
func (a *aggregate) Metrics() []*scoring.AveragedMetric {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*scoring.AveragedMetric, 0, len(a.names))
	for _, name := range a.names {
		out = append(out, a.metrics[name])
	}
	return out
}

// collector is implemented by every node that receives query values.
type collector interface {
	averaged(metric string) *scoring.AveragedMetric
}

// Evaluation is the root of a run's result tree.
type Evaluation struct {
	aggregate
	corpora children[Corpus]
}

// NewEvaluation creates an empty result tree.
func NewEvaluation() *Evaluation {
	return &Evaluation{aggregate: newAggregate("evaluation")}
}

// FindOrCreateCorpus returns the corpus named name, creating it if needed.
func (e *Evaluation) FindOrCreateCorpus(name string) *Corpus {
	return e.corpora.findOrCreate(name, func() *Corpus {
		return &Corpus{aggregate: newAggregate(name), parent: e}
	})
}

// Corpus looks up an existing corpus.
func (e *Evaluation) Corpus(name string) (*Corpus, bool) {
	return e.corpora.get(name)
}

// Corpora returns the corpora in insertion order.
func (e *Evaluation) Corpora() []*Corpus {
	return e.corpora.list()
}

// Corpus groups the configurations evaluated against one collection file.
type Corpus struct {
	aggregate
	parent         *Evaluation
	configurations children[Configuration]
}

// FindOrCreateConfiguration returns the configuration named name, creating it if needed.
func (c *Corpus) FindOrCreateConfiguration(name string) *Configuration {
	return c.configurations.findOrCreate(name, func() *Configuration {
		return &Configuration{aggregate: newAggregate(name), parent: c}
	})
}

// Configuration looks up an existing configuration.
func (c *Corpus) Configuration(name string) (*Configuration, bool) {
	return c.configurations.get(name)
}

// Configurations returns the configurations in insertion order.
func (c *Corpus) Configurations() []*Configuration {
	return c.configurations.list()
}

// Configuration is one index configuration; its metrics carry a value per
// platform version.
type Configuration struct {
	aggregate
	parent *Corpus
	topics children[Topic]
}

// FindOrCreateTopic returns the topic named name, creating it if needed.
func (c *Configuration) FindOrCreateTopic(name string) *Topic {
	return c.topics.findOrCreate(name, func() *Topic {
		return &Topic{aggregate: newAggregate(name), parent: c}
	})
}

// Topic looks up an existing topic.
func (c *Configuration) Topic(name string) (*Topic, bool) {
	return c.topics.get(name)
}

// Topics returns the topics in insertion order.
func (c *Configuration) Topics() []*Topic {
	return c.topics.list()
}

// Topic is a search intent.
type Topic struct {
	aggregate
	parent *Configuration
	groups children[QueryGroup]
}

// Configuration returns the owning configuration.
func (t *Topic) Configuration() *Configuration {
	return t.parent
}

// FindOrCreateQueryGroup returns the query group named name, creating it if needed.
func (t *Topic) FindOrCreateQueryGroup(name string) *QueryGroup {
	return t.groups.findOrCreate(name, func() *QueryGroup {
		return &QueryGroup{aggregate: newAggregate(name), parent: t}
	})
}

// QueryGroup looks up an existing query group.
func (t *Topic) QueryGroup(name string) (*QueryGroup, bool) {
	return t.groups.get(name)
}

// QueryGroups returns the query groups in insertion order.
func (t *Topic) QueryGroups() []*QueryGroup {
	return t.groups.list()
}

// QueryGroup is a set of queries sharing one judgment set.
type QueryGroup struct {
	aggregate
	parent  *Topic
	queries children[Query]
}

// Topic returns the owning topic.
func (g *QueryGroup) Topic() *Topic {
	return g.parent
}

// FindOrCreateQuery returns the query named name, creating it with metrics
// if needed. metrics is ignored when the query already exists.
func (g *QueryGroup) FindOrCreateQuery(name string, metrics []scoring.Metric) *Query {
	return g.queries.findOrCreate(name, func() *Query {
		return newQuery(name, g, metrics)
	})
}

// Query looks up an existing query.
func (g *QueryGroup) Query(name string) (*Query, bool) {
	return g.queries.get(name)
}

// Queries returns the queries in insertion order.
func (g *QueryGroup) Queries() []*Query {
	return g.queries.list()
}

// ancestors lists the nodes a query's values roll up into, nearest first.
func (g *QueryGroup) ancestors() []collector {
	topic := g.parent
	configuration := topic.parent
	corpus := configuration.parent
	evaluation := corpus.parent
	return []collector{g, topic, configuration, corpus, evaluation}
}

// metricValues renders rollups as name → version → value.
func metricValues[V scoring.Valuer](metrics []V) map[string]map[string]string {
	out := make(map[string]map[string]string, len(metrics))
	for _, m := range metrics {
		values := make(map[string]string)
		for _, v := range m.Versions() {
			values[v] = formatValue(m.Value(v))
		}
		out[m.Name()] = values
	}
	return out
}

func formatValue(d decimal.Decimal) string {
	return d.String()
}

// MarshalJSON renders the whole tree.
func (e *Evaluation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name    string                       `json:"name"`
		Metrics map[string]map[string]string `json:"metrics"`
		Corpora []*Corpus                    `json:"corpora"`
	}{e.name, metricValues(e.Metrics()), e.Corpora()})
}

// MarshalJSON renders the corpus subtree.
func (c *Corpus) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name           string                       `json:"name"`
		Metrics        map[string]map[string]string `json:"metrics"`
		Configurations []*Configuration             `json:"configurations"`
	}{c.name, metricValues(c.Metrics()), c.Configurations()})
}

// MarshalJSON renders the configuration subtree.
func (c *Configuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name    string                       `json:"name"`
		Metrics map[string]map[string]string `json:"metrics"`
		Topics  []*Topic                     `json:"topics"`
	}{c.name, metricValues(c.Metrics()), c.Topics()})
}

// MarshalJSON renders the topic subtree.
func (t *Topic) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name        string                       `json:"name"`
		Metrics     map[string]map[string]string `json:"metrics"`
		QueryGroups []*QueryGroup                `json:"query_groups"`
	}{t.name, metricValues(t.Metrics()), t.QueryGroups()})
}

// MarshalJSON renders the query group subtree.
func (g *QueryGroup) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name    string                       `json:"name"`
		Metrics map[string]map[string]string `json:"metrics"`
		Queries []*Query                     `json:"queries"`
	}{g.name, metricValues(g.Metrics()), g.Queries()})
}
