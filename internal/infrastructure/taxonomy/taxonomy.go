package taxonomy

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

//go:embed default.yaml
var defaultTaxonomy []byte

// Taxonomy is the closed set of system categories offered to classifiers.
type Taxonomy struct {
	Categories []domain.CategorySpec `yaml:"categories"`
}

// Default returns the embedded taxonomy.
func Default() (*Taxonomy, error) {
	return Parse(defaultTaxonomy)
}

// Load reads a taxonomy file, or the embedded default when path is empty.
func Load(path string) (*Taxonomy, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Taxonomy, error) {
	var tax Taxonomy
	if err := yaml.Unmarshal(data, &tax); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if err := tax.validate(); err != nil {
		return nil, err
	}
	return &tax, nil
}

func (t *Taxonomy) validate() error {
	seen := make(map[string]struct{}, len(t.Categories))
	hasOther := false
	for i := range t.Categories {
		name := strings.TrimSpace(t.Categories[i].Name)
		if name == "" {
			return fmt.Errorf("taxonomy entry %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("taxonomy category %q is duplicated", name)
		}
		seen[name] = struct{}{}
		t.Categories[i].Name = name
		if name == domain.OtherCategory {
			hasOther = true
		}
	}
	if !hasOther {
		return fmt.Errorf("taxonomy must contain the %q category", domain.OtherCategory)
	}
	return nil
}

// Names returns category names in file order.
func (t *Taxonomy) Names() []string {
	out := make([]string, 0, len(t.Categories))
	for _, c := range t.Categories {
		out = append(out, c.Name)
	}
	return out
}

// Seed upserts every category as a system category. Running it again is safe.
func Seed(ctx context.Context, repo ports.CategoryRepository, tax *Taxonomy) error {
	for _, spec := range tax.Categories {
		if _, err := repo.UpsertSystem(ctx, spec); err != nil {
			return fmt.Errorf("seed category %q: %w", spec.Name, err)
		}
	}
	slog.Info("taxonomy_seeded", "categories", len(tax.Categories))
	return nil
}
