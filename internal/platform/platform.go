// Package platform defines the search platform under evaluation and ships
// the adapters the evaluator can drive.
package platform

import (
	"context"
)

// Hit is one returned document as a field → value mapping.
type Hit = map[string]any

// Response is a ranked result list.
type Response struct {
	// TotalHits is the number of matches reported by the platform, which may
	// exceed len(Hits).
	TotalHits int64
	Hits      []Hit
}

// Platform is a search engine that can index a corpus and answer queries.
//
// Errors from ExecuteQuery that are transient (see errors.IsTransient) turn
// into an empty result for that query and version; any other error aborts
// the run.
type Platform interface {
	// Name identifies the adapter.
	Name() string

	// RequiresCorpus reports whether Load needs a readable corpus file.
	RequiresCorpus() bool

	// Load indexes corpusFile into indexName using the settings found in
	// settingsPath, the index configuration folder of version.
	Load(ctx context.Context, corpusFile, settingsPath, indexName, version string) error

	// ExecuteQuery runs query against indexName and returns at most maxRows
	// hits restricted to fields (all fields when fields is empty).
	ExecuteQuery(ctx context.Context, indexName, version, query string, fields []string, maxRows int) (Response, error)

	// Close releases the platform's resources.
	Close() error
}

// IndexName is the internal index identifier a version's corpus is loaded
// under.
func IndexName(index, version string) string {
	return index + "_" + version
}

// Project copies hit keeping only the requested fields. An empty field list
// keeps everything.
func Project(hit Hit, fields []string) Hit {
	if len(fields) == 0 {
		out := make(Hit, len(hit))
		for k, v := range hit {
			out[k] = v
		}
		return out
	}

	out := make(Hit, len(fields))
	for _, f := range fields {
		if v, ok := hit[f]; ok {
			out[f] = v
		}
	}
	return out
}
