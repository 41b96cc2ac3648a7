package platform

import (
	"fmt"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// Platform types.
const (
	TypeMemory     = "memory"
	TypeQdrant     = "qdrant"
	TypeRiceSearch = "ricesearch"
)

// Options select and tune a platform.
type Options struct {
	Type string

	// RequestsPerSecond throttles queries when positive.
	RequestsPerSecond float64
	Burst             int

	Logger *logger.Logger
}

// New creates the platform named by opts.Type.
func New(opts Options) (Platform, error) {
	var p Platform
	switch opts.Type {
	case TypeMemory, "":
		p = NewMemory(opts.Logger)
	case TypeQdrant:
		p = NewQdrant(opts.Logger)
	case TypeRiceSearch:
		p = NewRiceSearch(opts.Logger)
	default:
		return nil, errors.ConfigurationError(fmt.Sprintf("unknown platform type %q", opts.Type), nil)
	}

	if opts.RequestsPerSecond > 0 {
		p = NewThrottled(p, opts.RequestsPerSecond, opts.Burst)
	}
	return p, nil
}
