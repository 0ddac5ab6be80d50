package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const categoryColumns = `id, name, description, color, icon, is_system, user_id, created_at, updated_at`

type CategoryRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	newID   func() string
}

func NewCategoryRepository(db *sql.DB, dialect Dialect) *CategoryRepository {
	return &CategoryRepository{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// FindByName prefers the caller's own category over a system one of the same name.
func (r *CategoryRepository) FindByName(ctx context.Context, userID, name string) (*domain.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM document_categories WHERE name = ? AND user_id IS NULL`
	args := []any{name}
	if strings.TrimSpace(userID) != "" {
		query = `SELECT ` + categoryColumns + ` FROM document_categories
WHERE name = ? AND (user_id IS NULL OR user_id = ?)
ORDER BY CASE WHEN user_id IS NULL THEN 1 ELSE 0 END
LIMIT 1`
		args = append(args, userID)
	}

	category, err := scanCategory(r.db.QueryRowContext(ctx, rebind(r.dialect, query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrCategoryNotFound, "find category", fmt.Errorf("name=%q", name))
		}
		return nil, fmt.Errorf("scan category: %w", err)
	}
	return &category, nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*domain.Category, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, `SELECT `+categoryColumns+` FROM document_categories WHERE id = ?`), id)
	category, err := scanCategory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrCategoryNotFound, "get category", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan category: %w", err)
	}
	return &category, nil
}

// UpsertSystem seeds a system category by name. Re-running it refreshes the
// presentation fields and keeps the id stable.
func (r *CategoryRepository) UpsertSystem(ctx context.Context, spec domain.CategorySpec) (*domain.Category, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upsert category", errors.New("name is required"))
	}
	now := r.now()
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, `
INSERT INTO document_categories (`+categoryColumns+`)
VALUES (?, ?, ?, ?, ?, TRUE, NULL, ?, ?)
ON CONFLICT (name) WHERE user_id IS NULL DO UPDATE SET
	description = excluded.description,
	color = excluded.color,
	icon = excluded.icon,
	is_system = TRUE,
	updated_at = excluded.updated_at
RETURNING `+categoryColumns), r.newID(), name, spec.Description, spec.Color, spec.Icon, now, now)

	category, err := scanCategory(row)
	if err != nil {
		return nil, fmt.Errorf("upsert category %q: %w", name, err)
	}
	return &category, nil
}

func scanCategory(row rowScanner) (domain.Category, error) {
	var category domain.Category
	var userID sql.NullString
	err := row.Scan(
		&category.ID,
		&category.Name,
		&category.Description,
		&category.Color,
		&category.Icon,
		&category.IsSystem,
		&userID,
		&category.CreatedAt,
		&category.UpdatedAt,
	)
	if err != nil {
		return domain.Category{}, err
	}
	if userID.Valid {
		category.UserID = &userID.String
	}
	return category, nil
}
