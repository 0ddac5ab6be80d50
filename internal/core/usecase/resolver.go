package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type CategoryResolver struct {
	categories ports.CategoryRepository
}

func NewCategoryResolver(categories ports.CategoryRepository) *CategoryResolver {
	return &CategoryResolver{categories: categories}
}

// Resolve maps a label to a stored category. Unknown labels resolve to the
// system "Other" category; a missing "Other" is an ErrResolution.
// The second return value reports whether the fallback was taken.
func (r *CategoryResolver) Resolve(ctx context.Context, userID, name string) (*domain.Category, bool, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		category, err := r.categories.FindByName(ctx, userID, name)
		if err == nil {
			return category, false, nil
		}
		if !domain.IsKind(err, domain.ErrCategoryNotFound) {
			return nil, false, fmt.Errorf("find category %q: %w", name, err)
		}
	}

	other, err := r.categories.FindByName(ctx, "", domain.OtherCategory)
	if err != nil {
		if domain.IsKind(err, domain.ErrCategoryNotFound) {
			return nil, false, domain.WrapError(domain.ErrResolution, "resolve category", fmt.Errorf("system category %q is not seeded", domain.OtherCategory))
		}
		return nil, false, fmt.Errorf("find fallback category: %w", err)
	}
	return other, true, nil
}
