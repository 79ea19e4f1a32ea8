// Package catalog resolves synaptome model references to the details the
// plan builder needs: the base neuron model and the synapse placements.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/neuron-sim/neuron-sim/sim"
)

// ErrNotFound is returned when a model reference is unknown to the catalog.
var ErrNotFound = errors.New("model not found")

// Catalog fetches synaptome details. token is the caller's credential, passed
// through unchanged.
type Catalog interface {
	FetchSynaptomeDetails(ctx context.Context, modelRef, token string) (*sim.SynaptomeDetails, error)
}

// Entry is one synaptome model in a catalog file.
type Entry struct {
	Self                 string `yaml:"self"`
	sim.SynaptomeDetails `yaml:",inline"`
}

// Document is the on-disk catalog format.
type Document struct {
	Models []Entry `yaml:"models"`
}

// FileCatalog serves synaptome details from a YAML document loaded once. The
// index is read-only after construction.
type FileCatalog struct {
	models map[string]sim.SynaptomeDetails
}

// LoadFileCatalog parses a catalog document. Unknown fields are rejected.
func LoadFileCatalog(path string) (*FileCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	var doc Document
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return NewFileCatalog(doc)
}

// NewFileCatalog indexes doc by model reference.
func NewFileCatalog(doc Document) (*FileCatalog, error) {
	c := &FileCatalog{models: make(map[string]sim.SynaptomeDetails, len(doc.Models))}
	for i, m := range doc.Models {
		if m.Self == "" {
			return nil, fmt.Errorf("catalog models[%d]: self is required", i)
		}
		if m.BaseModelRef == "" {
			return nil, fmt.Errorf("catalog models[%d] (%s): base_model_self is required", i, m.Self)
		}
		if _, dup := c.models[m.Self]; dup {
			return nil, fmt.Errorf("catalog models[%d]: duplicate model %q", i, m.Self)
		}
		c.models[m.Self] = m.SynaptomeDetails
	}
	return c, nil
}

// FetchSynaptomeDetails implements Catalog. The token is ignored.
func (c *FileCatalog) FetchSynaptomeDetails(ctx context.Context, modelRef, _ string) (*sim.SynaptomeDetails, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := c.models[modelRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, modelRef)
	}
	d.Placement = append([]sim.SynapsePlacementConfig(nil), d.Placement...)
	return &d, nil
}
