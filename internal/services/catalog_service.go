package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	domain "github.com/alma-estilo/api/internal/domain"
	"github.com/alma-estilo/api/internal/repositories"
)

const (
	productIDPrefix  = "prd_"
	categoryIDPrefix = "cat_"

	defaultUploadTTL = 15 * time.Minute
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product or category could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogConflict indicates a duplicate SKU or slug.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogUploadsUnavailable indicates no upload signer is configured.
	ErrCatalogUploadsUnavailable = errors.New("catalog: uploads not configured")
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// UploadURLSigner issues signed upload URLs for catalog media.
type UploadURLSigner interface {
	SignUpload(ctx context.Context, object, contentType string, expiresAt time.Time) (uploadURL, objectURL string, err error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Categories  repositories.CategoryRepository
	Uploads     UploadURLSigner
	UploadTTL   time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	uploads    UploadURLSigner
	uploadTTL  time.Duration
	sanitizer  *bluemonday.Policy
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Categories == nil {
		return nil, errors.New("catalog service: category repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	ttl := deps.UploadTTL
	if ttl <= 0 {
		ttl = defaultUploadTTL
	}

	return &catalogService{
		products:   deps.Products,
		categories: deps.Categories,
		uploads:    deps.Uploads,
		uploadTTL:  ttl,
		sanitizer:  bluemonday.UGCPolicy(),
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (domain.Product, error) {
	sku := strings.TrimSpace(cmd.SKU)
	name := strings.TrimSpace(cmd.Name)
	if sku == "" {
		return domain.Product{}, fmt.Errorf("%w: sku is required", ErrCatalogInvalidInput)
	}
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if cmd.Price <= 0 {
		return domain.Product{}, fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
	}
	if cmd.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock cannot be negative", ErrCatalogInvalidInput)
	}

	if _, err := s.products.GetBySKU(ctx, sku); err == nil {
		return domain.Product{}, fmt.Errorf("%w: sku %s already exists", ErrCatalogConflict, sku)
	} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrCatalogNotFound) {
		return domain.Product{}, mapped
	}

	if categoryID := strings.TrimSpace(cmd.CategoryID); categoryID != "" {
		if _, err := s.categories.Get(ctx, categoryID); err != nil {
			return domain.Product{}, s.mapRepositoryError(err)
		}
	}

	now := s.clock()
	product := domain.Product{
		ID:          productIDPrefix + s.newID(),
		SKU:         sku,
		Name:        name,
		Description: s.sanitizer.Sanitize(strings.TrimSpace(cmd.Description)),
		Price:       cmd.Price,
		Currency:    normalizeCurrency(cmd.Currency),
		CategoryID:  strings.TrimSpace(cmd.CategoryID),
		Stock:       cmd.Stock,
		Images:      normalizeStringSlice(cmd.Images),
		Tags:        normalizeStringSlice(cmd.Tags),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.products.Create(ctx, product); err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.created", map[string]any{
		"product": product.ID,
		"sku":     product.SKU,
		"actor":   strings.TrimSpace(cmd.ActorID),
	})

	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (domain.Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name cannot be empty", ErrCatalogInvalidInput)
		}
		product.Name = name
	}
	if cmd.Description != nil {
		product.Description = s.sanitizer.Sanitize(strings.TrimSpace(*cmd.Description))
	}
	if cmd.Price != nil {
		if *cmd.Price <= 0 {
			return domain.Product{}, fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
		}
		product.Price = *cmd.Price
	}
	if cmd.CategoryID != nil {
		categoryID := strings.TrimSpace(*cmd.CategoryID)
		if categoryID != "" {
			if _, err := s.categories.Get(ctx, categoryID); err != nil {
				return domain.Product{}, s.mapRepositoryError(err)
			}
		}
		product.CategoryID = categoryID
	}
	if cmd.Stock != nil {
		if *cmd.Stock < 0 {
			return domain.Product{}, fmt.Errorf("%w: stock cannot be negative", ErrCatalogInvalidInput)
		}
		product.Stock = *cmd.Stock
	}
	if cmd.Images != nil {
		product.Images = normalizeStringSlice(cmd.Images)
	}
	if cmd.Tags != nil {
		product.Tags = normalizeStringSlice(cmd.Tags)
	}
	if cmd.Active != nil {
		product.Active = *cmd.Active
	}
	product.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, product); err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

// DeactivateProduct soft-deletes the product so existing orders keep their
// snapshot references intact.
func (s *catalogService) DeactivateProduct(ctx context.Context, productID, actorID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}
	if !product.Active {
		return product, nil
	}

	product.Active = false
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.deactivated", map[string]any{
		"product": product.ID,
		"actor":   strings.TrimSpace(actorID),
	})

	return product, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error) {
	page, err := s.products.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, cmd CreateCategoryCommand) (domain.Category, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return domain.Category{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}

	slug := Slugify(name)
	if slug == "" {
		return domain.Category{}, fmt.Errorf("%w: name yields an empty slug", ErrCatalogInvalidInput)
	}
	if _, err := s.categories.GetBySlug(ctx, slug); err == nil {
		return domain.Category{}, fmt.Errorf("%w: slug %s already exists", ErrCatalogConflict, slug)
	} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrCatalogNotFound) {
		return domain.Category{}, mapped
	}

	if parentID := strings.TrimSpace(cmd.ParentID); parentID != "" {
		if _, err := s.categories.Get(ctx, parentID); err != nil {
			return domain.Category{}, s.mapRepositoryError(err)
		}
	}

	now := s.clock()
	category := domain.Category{
		ID:        categoryIDPrefix + s.newID(),
		Name:      name,
		Slug:      slug,
		ParentID:  strings.TrimSpace(cmd.ParentID),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.categories.Create(ctx, category); err != nil {
		return domain.Category{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.category.created", map[string]any{
		"category": category.ID,
		"slug":     category.Slug,
		"actor":    strings.TrimSpace(cmd.ActorID),
	})

	return category, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, cmd UpdateCategoryCommand) (domain.Category, error) {
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return domain.Category{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}

	category, err := s.categories.Get(ctx, categoryID)
	if err != nil {
		return domain.Category{}, s.mapRepositoryError(err)
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return domain.Category{}, fmt.Errorf("%w: name cannot be empty", ErrCatalogInvalidInput)
		}
		slug := Slugify(name)
		if slug != category.Slug {
			if _, err := s.categories.GetBySlug(ctx, slug); err == nil {
				return domain.Category{}, fmt.Errorf("%w: slug %s already exists", ErrCatalogConflict, slug)
			} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrCatalogNotFound) {
				return domain.Category{}, mapped
			}
		}
		category.Name = name
		category.Slug = slug
	}
	if cmd.ParentID != nil {
		parentID := strings.TrimSpace(*cmd.ParentID)
		if parentID != "" {
			if parentID == category.ID {
				return domain.Category{}, fmt.Errorf("%w: category cannot be its own parent", ErrCatalogInvalidInput)
			}
			if _, err := s.categories.Get(ctx, parentID); err != nil {
				return domain.Category{}, s.mapRepositoryError(err)
			}
		}
		category.ParentID = parentID
	}
	if cmd.Active != nil {
		category.Active = *cmd.Active
	}
	category.UpdatedAt = s.clock()

	if err := s.categories.Update(ctx, category); err != nil {
		return domain.Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) DeactivateCategory(ctx context.Context, categoryID, actorID string) (domain.Category, error) {
	active := false
	return s.UpdateCategory(ctx, UpdateCategoryCommand{
		CategoryID: categoryID,
		Active:     &active,
		ActorID:    actorID,
	})
}

func (s *catalogService) GetCategory(ctx context.Context, categoryID string) (domain.Category, error) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return domain.Category{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	category, err := s.categories.Get(ctx, categoryID)
	if err != nil {
		return domain.Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) ListCategories(ctx context.Context, filter CategoryListFilter) (domain.CursorPage[domain.Category], error) {
	page, err := s.categories.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Category]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// ResolveOrderItems snapshots the requested items from the catalog. Missing,
// inactive, or under-stocked products make the whole resolution fail so an
// order is never created partially fulfillable.
func (s *catalogService) ResolveOrderItems(ctx context.Context, items []RequestedItem) ([]ResolvedOrderItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	resolved := make([]ResolvedOrderItem, 0, len(items))
	for _, requested := range items {
		sku := strings.TrimSpace(requested.SKU)
		if sku == "" {
			return nil, fmt.Errorf("%w: item sku is required", ErrOrderInvalidInput)
		}
		if requested.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, sku)
		}

		product, err := s.products.GetBySKU(ctx, sku)
		if err != nil {
			mapped := s.mapRepositoryError(err)
			if errors.Is(mapped, ErrCatalogNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrOrderItemUnavailable, sku)
			}
			return nil, mapped
		}
		if !product.Active {
			return nil, fmt.Errorf("%w: %s is no longer sold", ErrOrderItemUnavailable, sku)
		}
		if product.Stock < requested.Quantity {
			return nil, fmt.Errorf("%w: %s has insufficient stock", ErrOrderItemUnavailable, sku)
		}

		resolved = append(resolved, ResolvedOrderItem{
			Product: product,
			Item: domain.OrderLineItem{
				ProductID: product.ID,
				SKU:       product.SKU,
				Name:      product.Name,
				Quantity:  requested.Quantity,
				UnitPrice: product.Price,
				Subtotal:  product.Price * int64(requested.Quantity),
			},
		})
	}
	return resolved, nil
}

// CreateImageUploadTicket issues a signed URL so admins can upload product
// images directly to object storage.
func (s *catalogService) CreateImageUploadTicket(ctx context.Context, req ImageUploadRequest) (ImageUploadTicket, error) {
	if s.uploads == nil {
		return ImageUploadTicket{}, ErrCatalogUploadsUnavailable
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return ImageUploadTicket{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" || strings.ContainsAny(fileName, "/\\") {
		return ImageUploadTicket{}, fmt.Errorf("%w: file name is invalid", ErrCatalogInvalidInput)
	}
	contentType := strings.TrimSpace(req.ContentType)
	if !strings.HasPrefix(contentType, "image/") {
		return ImageUploadTicket{}, fmt.Errorf("%w: content type must be an image", ErrCatalogInvalidInput)
	}

	if _, err := s.products.Get(ctx, productID); err != nil {
		return ImageUploadTicket{}, s.mapRepositoryError(err)
	}

	object := path.Join("catalog/products", productID, "images", s.newID()+path.Ext(fileName))
	expiresAt := s.clock().Add(s.uploadTTL)

	uploadURL, objectURL, err := s.uploads.SignUpload(ctx, object, contentType, expiresAt)
	if err != nil {
		return ImageUploadTicket{}, fmt.Errorf("catalog: sign upload url: %w", err)
	}

	return ImageUploadTicket{
		UploadURL: uploadURL,
		ObjectURL: objectURL,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}

// Slugify folds diacritics and collapses non-alphanumerics so "Almohadón Más"
// becomes "almohadon-mas".
func Slugify(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	slug := slugSanitizer.ReplaceAllString(strings.ToLower(folded), "-")
	return strings.Trim(slug, "-")
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return domain.DefaultCurrency
	}
	return currency
}

func normalizeStringSlice(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
