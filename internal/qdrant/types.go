package qdrant

import (
	"errors"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("qdrant client is closed")

// CollectionConfig defines the collection holding one evaluated index.
type CollectionConfig struct {
	// Name is the collection name (will be prefixed with CollectionPrefix).
	Name string

	// VectorSize is the dimension of the corpus vectors.
	VectorSize uint64

	// Distance is one of cosine, dot, euclid. Defaults to cosine.
	Distance string

	// KeywordFields get a keyword payload index for filtering.
	KeywordFields []string
}

func (cfg CollectionConfig) distance() qdrant.Distance {
	switch strings.ToLower(cfg.Distance) {
	case "dot":
		return qdrant.Distance_Dot
	case "euclid", "euclidean":
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

// Point is a corpus document to upsert.
type Point struct {
	// ID is a uint64 or UUID string.
	ID      any
	Vector  []float32
	Payload map[string]any
}

// Condition is an exact-match condition on a payload field.
type Condition struct {
	Key   string `json:"key"`
	Match any    `json:"match"`
}

// Filter restricts a query or count to matching points.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// SearchRequest is a nearest-neighbour query.
type SearchRequest struct {
	Vector []float32
	Filter *Filter
	Limit  uint64
}

// ScoredPoint is one query result.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}
