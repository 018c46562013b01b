// Package task models practice tasks: the function signature, the shipped
// sample tests and user-authored test cases.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no descriptor exists for a slug.
var ErrNotFound = errors.New("task not found")

// Contributor credits the author of a task.
type Contributor struct {
	Name   string `json:"name" yaml:"name"`
	GitHub string `json:"github,omitempty" yaml:"github,omitempty"`
}

// Descriptor is a task as published on the practice site.
type Descriptor struct {
	Slug        string       `json:"slug" yaml:"slug"`
	Title       string       `json:"title" yaml:"title"`
	Description string       `json:"description" yaml:"description"`
	Signature   Signature    `json:"signature" yaml:"signature"`
	Tests       []TestCase   `json:"tests" yaml:"tests"`
	Contributor *Contributor `json:"contributor,omitempty" yaml:"contributor,omitempty"`
}

// Summary is the catalog listing entry for a task.
type Summary struct {
	Slug        string       `json:"slug"`
	Title       string       `json:"title"`
	Contributor *Contributor `json:"contributor,omitempty"`
}

var extensions = []string{".json", ".yaml", ".yml"}

// Load reads a task descriptor from a JSON or YAML file. The slug defaults
// to the file name without its extension.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		// Values carry their own JSON decoding, so YAML goes through JSON.
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing task %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("converting task %s: %w", path, err)
		}
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing task %s: %w", path, err)
	}
	if d.Slug == "" {
		d.Slug = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := d.Signature.Validate(); err != nil {
		return nil, fmt.Errorf("task %s: %w", d.Slug, err)
	}
	d.Tests = NormalizeAll(d.Tests, d.Signature)
	return &d, nil
}

// Examples renders the first n sample tests as call lines, with the expected
// return appended when one is declared.
func (d *Descriptor) Examples(n int) []string {
	var out []string
	for i, tc := range d.Tests {
		if i >= n {
			break
		}
		line := d.Signature.Call(tc.Args, 40)
		if tc.Return != nil {
			line += " == " + tc.Return.String()
		}
		out = append(out, line)
	}
	return out
}

// Catalog serves task descriptors from a directory.
type Catalog struct {
	Dir string
}

// Get loads the descriptor for slug.
func (c Catalog) Get(slug string) (*Descriptor, error) {
	if slug == "" || strings.ContainsAny(slug, `/\`) || strings.HasPrefix(slug, ".") {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, slug)
	}
	for _, ext := range extensions {
		path := filepath.Join(c.Dir, slug+ext)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
}

// List returns summaries of every loadable task ordered by slug. Files that
// fail to parse are skipped.
func (c Catalog) List() ([]Summary, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading tasks dir: %w", err)
	}
	var out []Summary
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		d, err := Load(filepath.Join(c.Dir, e.Name()))
		if err != nil || seen[d.Slug] {
			continue
		}
		seen[d.Slug] = true
		out = append(out, Summary{Slug: d.Slug, Title: d.Title, Contributor: d.Contributor})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}
