package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/alma-estilo/api/internal/domain"
	pfirestore "github.com/alma-estilo/api/internal/platform/firestore"
	"github.com/alma-estilo/api/internal/repositories"
)

const categoriesCollection = "categories"

type categoryDocument struct {
	Name      string    `firestore:"name"`
	Slug      string    `firestore:"slug"`
	ParentID  string    `firestore:"parentId,omitempty"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CategoryRepository persists catalog categories within Firestore.
type CategoryRepository struct {
	base     *pfirestore.BaseRepository[categoryDocument]
	provider *pfirestore.Provider
}

// NewCategoryRepository constructs a Firestore-backed category repository.
func NewCategoryRepository(provider *pfirestore.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[categoryDocument](provider, categoriesCollection, nil, nil)
	return &CategoryRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Create persists a new category document keyed by the category ID.
func (r *CategoryRepository) Create(ctx context.Context, category domain.Category) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	id := strings.TrimSpace(category.ID)
	if id == "" {
		return errors.New("category repository: category id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeCategory(category)); err != nil {
		return pfirestore.WrapError("categories.create", err)
	}
	return nil
}

// Update overwrites the category document.
func (r *CategoryRepository) Update(ctx context.Context, category domain.Category) error {
	if r == nil || r.base == nil {
		return errors.New("category repository not initialised")
	}
	id := strings.TrimSpace(category.ID)
	if id == "" {
		return errors.New("category repository: category id is required")
	}

	if _, err := r.base.Set(ctx, id, encodeCategory(category)); err != nil {
		return err
	}
	return nil
}

// Get loads a category by ID.
func (r *CategoryRepository) Get(ctx context.Context, id string) (domain.Category, error) {
	if r == nil || r.base == nil {
		return domain.Category{}, errors.New("category repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return domain.Category{}, errors.New("category repository: category id is required")
	}

	doc, err := r.base.Get(ctx, trimmed)
	if err != nil {
		return domain.Category{}, err
	}
	return decodeCategory(doc.ID, doc.Data), nil
}

// GetBySlug loads a category by its slug.
func (r *CategoryRepository) GetBySlug(ctx context.Context, slug string) (domain.Category, error) {
	if r == nil || r.base == nil {
		return domain.Category{}, errors.New("category repository not initialised")
	}
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return domain.Category{}, errors.New("category repository: slug is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", trimmed).Limit(1)
	})
	if err != nil {
		return domain.Category{}, err
	}
	if len(docs) == 0 {
		return domain.Category{}, pfirestore.NewNotFoundError("categories.getBySlug", fmt.Errorf("category with slug %s not found", trimmed))
	}
	return decodeCategory(docs[0].ID, docs[0].Data), nil
}

// List returns categories matching the filter ordered by name.
func (r *CategoryRepository) List(ctx context.Context, filter repositories.CategoryListFilter) (domain.CursorPage[domain.Category], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Category]{}, errors.New("category repository not initialised")
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		if parent := strings.TrimSpace(filter.ParentID); parent != "" {
			q = q.Where("parentId", "==", parent)
		}
		q = q.OrderBy("name", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if token := strings.TrimSpace(filter.PageToken); token != "" {
			if name, id, ok := decodeStringCursor(token); ok {
				q = q.StartAfter(name, id)
			}
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Category]{}, err
	}

	page := domain.CursorPage[domain.Category]{Items: make([]domain.Category, 0, len(docs))}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[i-1]
			page.NextPageToken = encodeStringCursor(last.Data.Name, last.ID)
			break
		}
		page.Items = append(page.Items, decodeCategory(doc.ID, doc.Data))
	}
	return page, nil
}

func encodeCategory(category domain.Category) categoryDocument {
	return categoryDocument{
		Name:      strings.TrimSpace(category.Name),
		Slug:      strings.TrimSpace(category.Slug),
		ParentID:  strings.TrimSpace(category.ParentID),
		Active:    category.Active,
		CreatedAt: category.CreatedAt.UTC(),
		UpdatedAt: category.UpdatedAt.UTC(),
	}
}

func decodeCategory(id string, doc categoryDocument) domain.Category {
	return domain.Category{
		ID:        id,
		Name:      doc.Name,
		Slug:      doc.Slug,
		ParentID:  doc.ParentID,
		Active:    doc.Active,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

var _ repositories.CategoryRepository = (*CategoryRepository)(nil)
