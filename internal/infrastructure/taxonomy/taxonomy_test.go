package taxonomy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

func TestDefaultTaxonomy(t *testing.T) {
	tax, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	names := tax.Names()
	if len(names) != 10 {
		t.Fatalf("expected 10 categories, got %d", len(names))
	}
	if names[0] != "Invoices" || names[9] != domain.OtherCategory {
		t.Fatalf("unexpected order %v", names)
	}
	if tax.Categories[0].Color != "#10B981" || tax.Categories[0].Icon != "receipt" {
		t.Fatalf("unexpected invoices presentation %+v", tax.Categories[0])
	}
}

func TestParseRequiresOther(t *testing.T) {
	_, err := Parse([]byte("categories:\n  - name: Invoices\n"))
	if err == nil {
		t.Fatalf("expected error without Other")
	}
}

func TestParseRejectsDuplicates(t *testing.T) {
	_, err := Parse([]byte("categories:\n  - name: Other\n  - name: ' Other '\n"))
	if err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	if err := os.WriteFile(path, []byte("categories:\n  - name: Recipes\n  - name: Other\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	tax, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(tax.Categories) != 2 || tax.Categories[0].Name != "Recipes" {
		t.Fatalf("unexpected taxonomy %+v", tax)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

type upsertRecorder struct {
	names []string
}

func (r *upsertRecorder) FindByName(context.Context, string, string) (*domain.Category, error) {
	return nil, domain.ErrCategoryNotFound
}

func (r *upsertRecorder) GetByID(context.Context, string) (*domain.Category, error) {
	return nil, domain.ErrCategoryNotFound
}

func (r *upsertRecorder) UpsertSystem(_ context.Context, spec domain.CategorySpec) (*domain.Category, error) {
	r.names = append(r.names, spec.Name)
	return &domain.Category{ID: spec.Name, Name: spec.Name, IsSystem: true}, nil
}

func TestSeedUpsertsEveryCategory(t *testing.T) {
	tax, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	repo := &upsertRecorder{}
	if err := Seed(context.Background(), repo, tax); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if len(repo.names) != 10 {
		t.Fatalf("expected 10 upserts, got %d", len(repo.names))
	}
}
