// Package ratings parses the relevance judgments document that drives an evaluation.
package ratings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/security"
	"github.com/ricesearch/rice-eval/internal/scoring"
	"github.com/ricesearch/rice-eval/internal/template"
)

// FileName is the ratings document name inside the ratings folder.
const FileName = "ratings.json"

// Ratings is the judgments document.
type Ratings struct {
	Index          string  `json:"index"`
	IDField        string  `json:"id_field"`
	CollectionFile string  `json:"collection_file"`
	Topics         []Topic `json:"topics"`
}

// Topic is a search intent grouping related query groups.
type Topic struct {
	Description string       `json:"description"`
	QueryGroups []QueryGroup `json:"query_groups"`
}

// QueryGroup is a set of queries sharing one judgment set.
type QueryGroup struct {
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Template          string            `json:"template,omitempty"`
	RelevantDocuments scoring.Judgments `json:"relevant_documents"`
	Queries           []Query           `json:"queries"`
}

// Query is one templated query.
type Query struct {
	Template     string       `json:"template,omitempty"`
	Placeholders Placeholders `json:"placeholders"`
}

// Placeholders keeps the placeholder pairs in document order.
type Placeholders []template.Placeholder

// UnmarshalJSON decodes a JSON object preserving its field order. Non-string
// values are kept in their JSON text form.
func (p *Placeholders) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("placeholders must be an object")
	}

	var result Placeholders
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("placeholder name must be a string")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("placeholder %s: %w", key, err)
		}

		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			value = strings.TrimSpace(string(raw))
		}
		result = append(result, template.Placeholder{Name: key, Value: value})
	}

	*p = result
	return nil
}

// MarshalJSON encodes the placeholders as an object in their original order.
func (p Placeholders) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ph := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(ph.Name)
		value, _ := json.Marshal(ph.Value)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Load reads and validates ratings.json from folder.
func Load(folder string) (*Ratings, error) {
	path := filepath.Join(folder, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigurationError(fmt.Sprintf("unable to read ratings file %s", path), err)
	}
	return Parse(data)
}

// Parse decodes and validates a ratings document.
func Parse(data []byte) (*Ratings, error) {
	var r Ratings
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.ConfigurationError("invalid ratings document", err)
	}
	if r.IDField == "" {
		r.IDField = scoring.DefaultIDField
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the fields the evaluation cannot run without.
func (r *Ratings) Validate() error {
	var errs []string

	if r.Index == "" {
		errs = append(errs, "index is required")
	} else if err := security.ValidateRelativeName("index", r.Index); err != nil {
		errs = append(errs, err.Error())
	}
	if r.CollectionFile == "" {
		errs = append(errs, "collection_file is required")
	} else if err := security.ValidateRelativeName("collection_file", r.CollectionFile); err != nil {
		errs = append(errs, err.Error())
	}
	if r.Topics == nil {
		errs = append(errs, "topics is required")
	}

	for ti, topic := range r.Topics {
		if topic.Description == "" {
			errs = append(errs, fmt.Sprintf("topics[%d]: description is required", ti))
		}
		for gi, group := range topic.QueryGroups {
			if group.Name == "" {
				errs = append(errs, fmt.Sprintf("topics[%d].query_groups[%d]: name is required", ti, gi))
			}
			for qi, q := range group.Queries {
				if q.Template == "" && group.Template == "" {
					errs = append(errs, fmt.Sprintf("topics[%d].query_groups[%d].queries[%d]: template is required", ti, gi, qi))
				}
			}
		}
	}

	if len(errs) > 0 {
		return errors.ConfigurationError(
			fmt.Sprintf("ratings validation failed:\n  - %s", strings.Join(errs, "\n  - ")), nil)
	}
	return nil
}

// QueryCount returns the number of queries across all topics.
func (r *Ratings) QueryCount() int {
	n := 0
	for _, topic := range r.Topics {
		for _, group := range topic.QueryGroups {
			n += len(group.Queries)
		}
	}
	return n
}
