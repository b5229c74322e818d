// Package catalog adapts an on-disk capability listing into the read-only
// table the orchestration core consumes.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"gopkg.in/yaml.v3"
)

// File is the serialized form of a catalog.
type File struct {
	Capabilities []hive.Capability `json:"capabilities" yaml:"capabilities"`
}

// Report counts what happened while building a table.
type Report struct {
	Loaded  int
	Skipped int
	// Problems holds one line per skipped entry.
	Problems []string
}

// Table is an immutable, ordered capability table.
type Table struct {
	order []hive.Capability
	byID  map[string]hive.Capability
}

var _ hive.Catalog = (*Table)(nil)

// NewTable builds a table from raw entries. Entries without an id, with
// whitespace in the id, or duplicating an earlier id are skipped and counted.
func NewTable(entries []hive.Capability) (*Table, Report) {
	t := &Table{
		order: make([]hive.Capability, 0, len(entries)),
		byID:  make(map[string]hive.Capability, len(entries)),
	}
	var report Report

	for i, c := range entries {
		c.ID = strings.TrimSpace(c.ID)
		switch {
		case c.ID == "":
			report.Skipped++
			report.Problems = append(report.Problems, fmt.Sprintf("entry %d: missing id", i))
			continue
		case strings.ContainsAny(c.ID, " \t\n"):
			report.Skipped++
			report.Problems = append(report.Problems, fmt.Sprintf("entry %d: id %q contains whitespace", i, c.ID))
			continue
		}
		if _, dup := t.byID[c.ID]; dup {
			report.Skipped++
			report.Problems = append(report.Problems, fmt.Sprintf("entry %d: duplicate id %q", i, c.ID))
			continue
		}
		c.Category = strings.TrimSpace(strings.ToLower(c.Category))
		c.Params = append([]string(nil), c.Params...)
		t.order = append(t.order, c)
		t.byID[c.ID] = c
		report.Loaded++
	}

	return t, report
}

// Load reads a YAML or JSON catalog file, chosen by extension.
func Load(path string) (*Table, Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &f)
	default:
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	t, report := NewTable(f.Capabilities)
	return t, report, nil
}

// Capabilities implements hive.Catalog. The returned slice is a copy.
func (t *Table) Capabilities() []hive.Capability {
	out := make([]hive.Capability, len(t.order))
	copy(out, t.order)
	return out
}

// Lookup implements hive.Catalog.
func (t *Table) Lookup(id string) (hive.Capability, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// Len returns the number of capabilities.
func (t *Table) Len() int { return len(t.order) }
