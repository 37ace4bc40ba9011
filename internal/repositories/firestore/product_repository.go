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

const productsCollection = "products"

type productDocument struct {
	SKU         string    `firestore:"sku"`
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	Price       int64     `firestore:"price"`
	Currency    string    `firestore:"currency"`
	CategoryID  string    `firestore:"categoryId,omitempty"`
	Stock       int       `firestore:"stock"`
	Images      []string  `firestore:"images,omitempty"`
	Tags        []string  `firestore:"tags,omitempty"`
	Active      bool      `firestore:"active"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// ProductRepository persists catalog products within Firestore.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Create persists a new product document keyed by the product ID.
func (r *ProductRepository) Create(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeProduct(product)); err != nil {
		return pfirestore.WrapError("products.create", err)
	}
	return nil
}

// Update overwrites the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}

	if _, err := r.base.Set(ctx, id, encodeProduct(product)); err != nil {
		return err
	}
	return nil
}

// Get loads a product by ID.
func (r *ProductRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc, err := r.base.Get(ctx, trimmed)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

// GetBySKU loads a product by its SKU.
func (r *ProductRepository) GetBySKU(ctx context.Context, sku string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	trimmed := strings.TrimSpace(sku)
	if trimmed == "" {
		return domain.Product{}, errors.New("product repository: sku is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sku", "==", trimmed).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.NewNotFoundError("products.getBySku", fmt.Errorf("product with sku %s not found", trimmed))
	}
	return decodeProduct(docs[0].ID, docs[0].Data), nil
}

// List returns products matching the filter ordered by creation time, newest first.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		if category := strings.TrimSpace(filter.CategoryID); category != "" {
			q = q.Where("categoryId", "==", category)
		}
		if tag := strings.TrimSpace(filter.Tag); tag != "" {
			q = q.Where("tags", "array-contains", tag)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if token := strings.TrimSpace(filter.PageToken); token != "" {
			if cursorTime, cursorID, ok := decodeTimeCursor(token); ok {
				q = q.StartAfter(cursorTime, cursorID)
			}
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	page := domain.CursorPage[domain.Product]{Items: make([]domain.Product, 0, len(docs))}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[i-1]
			page.NextPageToken = encodeTimeCursor(last.Data.CreatedAt, last.ID)
			break
		}
		page.Items = append(page.Items, decodeProduct(doc.ID, doc.Data))
	}
	return page, nil
}

func encodeProduct(product domain.Product) productDocument {
	return productDocument{
		SKU:         strings.TrimSpace(product.SKU),
		Name:        strings.TrimSpace(product.Name),
		Description: product.Description,
		Price:       product.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(product.Currency)),
		CategoryID:  strings.TrimSpace(product.CategoryID),
		Stock:       product.Stock,
		Images:      product.Images,
		Tags:        product.Tags,
		Active:      product.Active,
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
}

func decodeProduct(id string, doc productDocument) domain.Product {
	return domain.Product{
		ID:          id,
		SKU:         doc.SKU,
		Name:        doc.Name,
		Description: doc.Description,
		Price:       doc.Price,
		Currency:    doc.Currency,
		CategoryID:  doc.CategoryID,
		Stock:       doc.Stock,
		Images:      doc.Images,
		Tags:        doc.Tags,
		Active:      doc.Active,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
