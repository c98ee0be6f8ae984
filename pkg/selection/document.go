package selection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/catalog/pkg/handle"
)

// Document is a selection written down as the grid events that built it.
//
//	selections:
//	  - uri: s3://bucket/photos/
//	    items: [a.jpg, 2024/]
//	  - uri: s3://bucket/photos/
//	    filter: "20"
//	    items: [2024/, 2025/]
type Document struct {
	Selections []DocumentEntry `json:"selections" yaml:"selections"`
}

// DocumentEntry is one Merge: the rows picked while viewing URI.
type DocumentEntry struct {
	URI    string   `json:"uri" yaml:"uri"`
	Items  []string `json:"items" yaml:"items"`
	Filter *string  `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// LoadDocument reads a selection document from path.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("selection file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read selection file: %w", err)
	}
	return ParseDocument(data, path)
}

// LoadDocumentFromReader reads a selection document from r. path is only used
// for format detection.
func LoadDocumentFromReader(r io.Reader, path string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read selection: %w", err)
	}
	return ParseDocument(data, path)
}

// ParseDocument decodes and validates a selection document. Files ending in
// .json are decoded as JSON, everything else as YAML. Unknown fields are
// rejected.
func ParseDocument(data []byte, path string) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("selection document is empty")
	}

	var doc Document
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid JSON in selection document: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid YAML in selection document: %w", err)
		}
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks every entry names a prefix URI.
func (d *Document) Validate() error {
	for i, e := range d.Selections {
		u, err := handle.ParseURI(e.URI)
		if err != nil {
			return fmt.Errorf("selections[%d]: %w", i, err)
		}
		if !u.IsPrefix() {
			return fmt.Errorf("selections[%d]: %s is not a prefix (must end with '/')", i, e.URI)
		}
	}
	return nil
}

// Reducer chains one Merge per entry, in document order.
func (d *Document) Reducer() Reducer {
	reducers := make([]Reducer, 0, len(d.Selections))
	for _, e := range d.Selections {
		u, err := handle.ParseURI(e.URI)
		if err != nil {
			continue
		}
		items := make([]string, 0, len(e.Items))
		for _, id := range e.Items {
			if handle.IsSelectable(id) {
				items = append(items, id)
			}
		}
		reducers = append(reducers, Merge(items, u.Bucket, u.Key, e.Filter))
	}
	return Chain(reducers...)
}

// State applies the document to an empty selection.
func (d *Document) State() State {
	return d.Reducer()(Empty())
}
