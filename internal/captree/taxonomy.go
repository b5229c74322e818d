package captree

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Taxonomy is the fixed Domain → Function grouping applied to the catalog.
type Taxonomy struct {
	Domains []Domain `yaml:"domains"`
}

// Domain is a top-level branch.
type Domain struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Functions   []Function `yaml:"functions"`
}

// Function is a second-level branch. A capability lands here when its id is
// listed in Capabilities or its category is listed in Categories; explicit
// ids win over categories.
type Function struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Categories   []string `yaml:"categories"`
	Capabilities []string `yaml:"capabilities"`
}

// LoadTaxonomy reads a YAML taxonomy file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate rejects taxonomies with missing or repeated branch ids.
func (t *Taxonomy) Validate() error {
	seen := make(map[string]struct{})
	for _, d := range t.Domains {
		if d.ID == "" {
			return fmt.Errorf("taxonomy domain %q has no id", d.Name)
		}
		if d.ID == GeneralID {
			return fmt.Errorf("taxonomy domain id %q is reserved", GeneralID)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("duplicate taxonomy id %q", d.ID)
		}
		seen[d.ID] = struct{}{}
		for _, f := range d.Functions {
			if f.ID == "" {
				return fmt.Errorf("function %q in domain %q has no id", f.Name, d.ID)
			}
			if _, dup := seen[f.ID]; dup {
				return fmt.Errorf("duplicate taxonomy id %q", f.ID)
			}
			seen[f.ID] = struct{}{}
		}
	}
	return nil
}

// index maps explicit capability ids and lowercased categories to function
// ids. The first function to claim a key keeps it.
func (t *Taxonomy) index() (explicit, byCategory map[string]string) {
	explicit = make(map[string]string)
	byCategory = make(map[string]string)
	for _, d := range t.Domains {
		for _, f := range d.Functions {
			for _, id := range f.Capabilities {
				if _, ok := explicit[id]; !ok {
					explicit[id] = f.ID
				}
			}
			for _, c := range f.Categories {
				key := strings.ToLower(strings.TrimSpace(c))
				if _, ok := byCategory[key]; !ok {
					byCategory[key] = f.ID
				}
			}
		}
	}
	return explicit, byCategory
}

// DefaultTaxonomy returns the built-in research taxonomy.
func DefaultTaxonomy() *Taxonomy {
	return &Taxonomy{Domains: []Domain{
		{
			ID: "literature", Name: "Literature", Description: "Published papers, preprints and patents",
			Functions: []Function{
				{ID: "literature.search", Name: "Search", Description: "Find papers by keyword or entity", Categories: []string{"literature", "search", "discovery"}},
				{ID: "literature.citations", Name: "Citations", Description: "Citation graphs and references", Categories: []string{"citations", "references"}},
				{ID: "literature.patents", Name: "Patents", Description: "Patent filings", Categories: []string{"patents"}},
			},
		},
		{
			ID: "molecular", Name: "Molecular biology", Description: "Genes, proteins and structures",
			Functions: []Function{
				{ID: "molecular.genomics", Name: "Genomics", Description: "Gene, variant and expression data", Categories: []string{"genomics", "gene", "variant", "expression"}},
				{ID: "molecular.protein", Name: "Proteins", Description: "Protein sequences, domains and interactions", Categories: []string{"protein", "proteomics", "interaction"}},
				{ID: "molecular.structure", Name: "Structure", Description: "3D structures and predictions", Categories: []string{"structure", "folding"}},
				{ID: "molecular.pathway", Name: "Pathways", Description: "Metabolic and signalling pathways", Categories: []string{"pathway", "metabolism"}},
			},
		},
		{
			ID: "chemistry", Name: "Chemistry", Description: "Compounds, drugs and reactions",
			Functions: []Function{
				{ID: "chemistry.compounds", Name: "Compounds", Description: "Small molecules and properties", Categories: []string{"chemistry", "compound", "drug"}},
				{ID: "chemistry.bioactivity", Name: "Bioactivity", Description: "Assays and target activity", Categories: []string{"bioactivity", "assay"}},
			},
		},
		{
			ID: "clinical", Name: "Clinical", Description: "Trials, diseases and phenotypes",
			Functions: []Function{
				{ID: "clinical.trials", Name: "Trials", Description: "Clinical trial registries", Categories: []string{"clinical", "trials"}},
				{ID: "clinical.disease", Name: "Disease", Description: "Disease ontologies and phenotypes", Categories: []string{"disease", "phenotype"}},
			},
		},
		{
			ID: "analysis", Name: "Analysis", Description: "Computation over collected data",
			Functions: []Function{
				{ID: "analysis.stats", Name: "Statistics", Description: "Statistical tests and enrichment", Categories: []string{"statistics", "enrichment"}},
				{ID: "analysis.synthesis", Name: "Synthesis", Description: "Summaries and report generation", Categories: []string{"synthesis", "summary", "report"}},
			},
		},
	}}
}
