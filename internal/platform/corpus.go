package platform

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// ReadCorpus reads a corpus file holding either a JSON array of documents or
// one JSON document per line.
func ReadCorpus(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.ConfigurationError(fmt.Sprintf("unable to read corpus %s", path), err)
	}
	defer f.Close()

	docs, err := decodeCorpus(f)
	if err != nil {
		return nil, errors.ConfigurationError(fmt.Sprintf("invalid corpus %s", path), err)
	}
	return docs, nil
}

func decodeCorpus(r io.Reader) ([]map[string]any, error) {
	br := bufio.NewReader(r)

	first, err := firstNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var docs []map[string]any
		if err := dec.Decode(&docs); err != nil {
			return nil, err
		}
		return docs, nil
	}

	var docs []map[string]any
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", len(docs)+1, err)
		}
		docs = append(docs, doc)
	}
}

// firstNonSpace peeks at the first significant byte without consuming it.
func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
