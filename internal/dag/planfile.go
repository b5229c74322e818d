package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"gopkg.in/yaml.v3"
)

// PlanFile is a dependency plan stored on disk.
type PlanFile struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description" json:"description"`
	Steps       []hive.PlanStep `yaml:"steps" json:"steps"`
}

// Loader reads a PlanFile in one format.
type Loader interface {
	Load(path string) (*PlanFile, error)
	Format() string // e.g. "yaml", "json"
}

var (
	loadersMu sync.RWMutex
	loaders   = make(map[string]Loader)
)

// RegisterLoader registers a Loader under its format name.
func RegisterLoader(l Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders[l.Format()] = l
}

// LoaderFor returns the Loader registered for a format.
func LoaderFor(format string) (Loader, bool) {
	loadersMu.RLock()
	defer loadersMu.RUnlock()
	l, ok := loaders[format]
	return l, ok
}

// YAMLLoader loads YAML plan files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*PlanFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()
	var pf PlanFile
	if err := yaml.NewDecoder(f).Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	return &pf, nil
}

func (YAMLLoader) Format() string { return "yaml" }

// JSONLoader loads JSON plan files.
type JSONLoader struct{}

func (JSONLoader) Load(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	var pf PlanFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return &pf, nil
}

func (JSONLoader) Format() string { return "json" }

func init() {
	RegisterLoader(YAMLLoader{})
	RegisterLoader(JSONLoader{})
}

// LoadPlanFile reads a plan file, choosing the loader by extension.
func LoadPlanFile(path string) (*PlanFile, error) {
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	l, ok := LoaderFor(format)
	if !ok {
		return nil, fmt.Errorf("no %s plan loader registered", format)
	}
	return l.Load(path)
}

// RefPattern matches a node reference with optional accessors:
// $id, $id.field, $id.items[0].
var RefPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)((?:\.[a-zA-Z0-9_]+|\[[0-9]+\])*)`)

// IsExpression reports whether a parameter value is an expression over
// upstream results, that is a string starting with "$".
func IsExpression(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(strings.TrimSpace(s), "$")
}

// References returns the node ids an expression parameter refers to.
func References(v any) []string {
	if !IsExpression(v) {
		return nil
	}
	var out []string
	for _, m := range RefPattern.FindAllStringSubmatch(v.(string), -1) {
		out = append(out, m[1])
	}
	return out
}

// Validate checks for duplicate ids, unknown dependencies, cycles, and
// parameter references to steps that are not direct dependencies.
func (pf *PlanFile) Validate() error {
	if len(pf.Steps) == 0 {
		return hive.NewPlanValidationError("plan has no steps", nil)
	}
	if _, err := Ingest(pf.Steps); err != nil {
		return err
	}
	for _, s := range pf.Steps {
		if s.CapabilityID == "" {
			return hive.NewPlanValidationError(fmt.Sprintf("step %q has no capability_id", s.ID), nil)
		}
		deps := make(map[string]struct{}, len(s.DependsOn))
		for _, d := range s.DependsOn {
			deps[d] = struct{}{}
		}
		for name, v := range s.Params {
			for _, ref := range References(v) {
				if _, ok := deps[ref]; !ok {
					return hive.NewPlanValidationError(
						fmt.Sprintf("step %q parameter %q refers to %q which is not a dependency", s.ID, name, ref), nil)
				}
			}
		}
	}
	return nil
}

// Plan converts the file into a plan.
func (pf *PlanFile) Plan() hive.Plan {
	steps := make([]hive.PlanStep, len(pf.Steps))
	copy(steps, pf.Steps)
	return hive.Plan{Steps: steps}
}

// LoadAndValidate loads a plan file, validates it and returns the ingested graph.
func LoadAndValidate(path string) (*PlanFile, *Graph, error) {
	pf, err := LoadPlanFile(path)
	if err != nil {
		return nil, nil, err
	}
	if err := pf.Validate(); err != nil {
		return nil, nil, err
	}
	g, err := Ingest(pf.Steps)
	if err != nil {
		return nil, nil, err
	}
	return pf, g, nil
}
