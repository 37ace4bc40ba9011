package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/alma-estilo/api/internal/domain"
	"github.com/alma-estilo/api/internal/repositories"
)

type stubProductRepository struct {
	createFunc   func(ctx context.Context, product domain.Product) error
	updateFunc   func(ctx context.Context, product domain.Product) error
	getFunc      func(ctx context.Context, id string) (domain.Product, error)
	getBySKUFunc func(ctx context.Context, sku string) (domain.Product, error)
	listFunc     func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
}

func (s *stubProductRepository) Create(ctx context.Context, product domain.Product) error {
	if s.createFunc == nil {
		return nil
	}
	return s.createFunc(ctx, product)
}

func (s *stubProductRepository) Update(ctx context.Context, product domain.Product) error {
	if s.updateFunc == nil {
		return nil
	}
	return s.updateFunc(ctx, product)
}

func (s *stubProductRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	if s.getFunc == nil {
		return domain.Product{}, &repositoryErrorStub{notFound: true}
	}
	return s.getFunc(ctx, id)
}

func (s *stubProductRepository) GetBySKU(ctx context.Context, sku string) (domain.Product, error) {
	if s.getBySKUFunc == nil {
		return domain.Product{}, &repositoryErrorStub{notFound: true}
	}
	return s.getBySKUFunc(ctx, sku)
}

func (s *stubProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Product]{}, nil
	}
	return s.listFunc(ctx, filter)
}

type stubCategoryRepository struct {
	createFunc    func(ctx context.Context, category domain.Category) error
	updateFunc    func(ctx context.Context, category domain.Category) error
	getFunc       func(ctx context.Context, id string) (domain.Category, error)
	getBySlugFunc func(ctx context.Context, slug string) (domain.Category, error)
	listFunc      func(ctx context.Context, filter repositories.CategoryListFilter) (domain.CursorPage[domain.Category], error)
}

func (s *stubCategoryRepository) Create(ctx context.Context, category domain.Category) error {
	if s.createFunc == nil {
		return nil
	}
	return s.createFunc(ctx, category)
}

func (s *stubCategoryRepository) Update(ctx context.Context, category domain.Category) error {
	if s.updateFunc == nil {
		return nil
	}
	return s.updateFunc(ctx, category)
}

func (s *stubCategoryRepository) Get(ctx context.Context, id string) (domain.Category, error) {
	if s.getFunc == nil {
		return domain.Category{}, &repositoryErrorStub{notFound: true}
	}
	return s.getFunc(ctx, id)
}

func (s *stubCategoryRepository) GetBySlug(ctx context.Context, slug string) (domain.Category, error) {
	if s.getBySlugFunc == nil {
		return domain.Category{}, &repositoryErrorStub{notFound: true}
	}
	return s.getBySlugFunc(ctx, slug)
}

func (s *stubCategoryRepository) List(ctx context.Context, filter repositories.CategoryListFilter) (domain.CursorPage[domain.Category], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Category]{}, nil
	}
	return s.listFunc(ctx, filter)
}

type stubUploadSigner struct {
	signFunc func(ctx context.Context, object, contentType string, expiresAt time.Time) (string, string, error)
}

func (s *stubUploadSigner) SignUpload(ctx context.Context, object, contentType string, expiresAt time.Time) (string, string, error) {
	if s.signFunc == nil {
		return "", "", errors.New("unexpected SignUpload call")
	}
	return s.signFunc(ctx, object, contentType, expiresAt)
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }

func newTestCatalogService(t *testing.T, deps CatalogServiceDeps) CatalogService {
	t.Helper()
	if deps.Products == nil {
		deps.Products = &stubProductRepository{}
	}
	if deps.Categories == nil {
		deps.Categories = &stubCategoryRepository{}
	}
	service, err := NewCatalogService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing catalog service: %v", err)
	}
	return service
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Almohadón Más":          "almohadon-mas",
		"  Ropa / Verano 2026  ": "ropa-verano-2026",
		"ÑANDÚ":                  "nandu",
		"---":                    "",
	}
	for input, want := range cases {
		if got := Slugify(input); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCatalogServiceCreateProduct(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	var created domain.Product

	products := &stubProductRepository{
		createFunc: func(ctx context.Context, product domain.Product) error {
			created = product
			return nil
		},
	}
	service := newTestCatalogService(t, CatalogServiceDeps{
		Products:    products,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01PRD" },
	})

	product, err := service.CreateProduct(context.Background(), CreateProductCommand{
		SKU:         " sku1 ",
		Name:        "Camisa lino",
		Description: `Fresca <script>alert("x")</script> y liviana`,
		Price:       100,
		Stock:       10,
		Tags:        []string{" verano ", ""},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if product.ID != "prd_01PRD" {
		t.Fatalf("unexpected product id %q", product.ID)
	}
	if product.SKU != "sku1" {
		t.Fatalf("expected trimmed sku, got %q", product.SKU)
	}
	if !product.Active {
		t.Fatal("new products must start active")
	}
	if product.Currency != domain.DefaultCurrency {
		t.Fatalf("expected default currency, got %q", product.Currency)
	}
	if strings.Contains(product.Description, "<script>") {
		t.Fatalf("expected sanitized description, got %q", product.Description)
	}
	if len(product.Tags) != 1 || product.Tags[0] != "verano" {
		t.Fatalf("unexpected tags %+v", product.Tags)
	}
	if created.ID != product.ID {
		t.Fatalf("expected product persisted, got %q", created.ID)
	}
}

func TestCatalogServiceCreateProductDuplicateSKU(t *testing.T) {
	products := &stubProductRepository{
		getBySKUFunc: func(ctx context.Context, sku string) (domain.Product, error) {
			return domain.Product{ID: "prd_existing", SKU: sku}, nil
		},
	}
	service := newTestCatalogService(t, CatalogServiceDeps{Products: products})

	_, err := service.CreateProduct(context.Background(), CreateProductCommand{
		SKU:   "sku1",
		Name:  "Camisa lino",
		Price: 100,
	})
	if !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected ErrCatalogConflict, got %v", err)
	}
}

func TestCatalogServiceCreateProductValidation(t *testing.T) {
	service := newTestCatalogService(t, CatalogServiceDeps{})

	cases := map[string]CreateProductCommand{
		"blank sku":      {Name: "Camisa", Price: 100},
		"blank name":     {SKU: "sku1", Price: 100},
		"zero price":     {SKU: "sku1", Name: "Camisa", Price: 0},
		"negative stock": {SKU: "sku1", Name: "Camisa", Price: 100, Stock: -1},
	}
	for name, cmd := range cases {
		if _, err := service.CreateProduct(context.Background(), cmd); !errors.Is(err, ErrCatalogInvalidInput) {
			t.Fatalf("%s: expected ErrCatalogInvalidInput, got %v", name, err)
		}
	}
}

func TestCatalogServiceUpdateProductPartial(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	existing := domain.Product{
		ID:     "prd_1",
		SKU:    "sku1",
		Name:   "Camisa lino",
		Price:  100,
		Stock:  10,
		Active: true,
	}

	var updated domain.Product
	products := &stubProductRepository{
		getFunc: func(ctx context.Context, id string) (domain.Product, error) {
			return existing, nil
		},
		updateFunc: func(ctx context.Context, product domain.Product) error {
			updated = product
			return nil
		},
	}
	service := newTestCatalogService(t, CatalogServiceDeps{
		Products: products,
		Clock:    func() time.Time { return now },
	})

	product, err := service.UpdateProduct(context.Background(), UpdateProductCommand{
		ProductID: "prd_1",
		Price:     int64Ptr(120),
		Stock:     intPtr(5),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if product.Name != "Camisa lino" {
		t.Fatalf("untouched fields must survive, got name %q", product.Name)
	}
	if product.Price != 120 || product.Stock != 5 {
		t.Fatalf("expected price 120 stock 5, got %d/%d", product.Price, product.Stock)
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Fatalf("expected updatedAt %v, got %v", now, updated.UpdatedAt)
	}

	if _, err := service.UpdateProduct(context.Background(), UpdateProductCommand{
		ProductID: "prd_1",
		Name:      strPtr("   "),
	}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected ErrCatalogInvalidInput for blank name, got %v", err)
	}
}

func TestCatalogServiceDeactivateProduct(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 45, 0, 0, time.UTC)
	existing := domain.Product{ID: "prd_1", SKU: "sku1", Name: "Camisa", Price: 100, Active: true}

	updateCalls := 0
	products := &stubProductRepository{
		getFunc: func(ctx context.Context, id string) (domain.Product, error) {
			return existing, nil
		},
		updateFunc: func(ctx context.Context, product domain.Product) error {
			updateCalls++
			existing = product
			return nil
		},
	}
	service := newTestCatalogService(t, CatalogServiceDeps{
		Products: products,
		Clock:    func() time.Time { return now },
	})

	product, err := service.DeactivateProduct(context.Background(), "prd_1", "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.Active {
		t.Fatal("expected product deactivated")
	}
	if updateCalls != 1 {
		t.Fatalf("expected one update, got %d", updateCalls)
	}

	// Deactivating again is a no-op.
	if _, err := service.DeactivateProduct(context.Background(), "prd_1", "admin-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updateCalls != 1 {
		t.Fatalf("expected no further updates, got %d", updateCalls)
	}
}

func TestCatalogServiceCreateCategory(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	var created domain.Category

	categories := &stubCategoryRepository{
		createFunc: func(ctx context.Context, category domain.Category) error {
			created = category
			return nil
		},
	}
	service := newTestCatalogService(t, CatalogServiceDeps{
		Categories:  categories,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01CAT" },
	})

	category, err := service.CreateCategory(context.Background(), CreateCategoryCommand{Name: "Almohadón Más"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if category.ID != "cat_01CAT" {
		t.Fatalf("unexpected category id %q", category.ID)
	}
	if category.Slug != "almohadon-mas" {
		t.Fatalf("unexpected slug %q", category.Slug)
	}
	if !category.Active {
		t.Fatal("new categories must start active")
	}
	if created.Slug != category.Slug {
		t.Fatalf("expected category persisted, got %+v", created)
	}
}

func TestCatalogServiceCreateCategoryDuplicateSlug(t *testing.T) {
	categories := &stubCategoryRepository{
		getBySlugFunc: func(ctx context.Context, slug string) (domain.Category, error) {
			return domain.Category{ID: "cat_existing", Slug: slug}, nil
		},
	}
	service := newTestCatalogService(t, CatalogServiceDeps{Categories: categories})

	if _, err := service.CreateCategory(context.Background(), CreateCategoryCommand{Name: "Ropa"}); !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected ErrCatalogConflict, got %v", err)
	}
}

func TestCatalogServiceUpdateCategorySelfParent(t *testing.T) {
	categories := &stubCategoryRepository{
		getFunc: func(ctx context.Context, id string) (domain.Category, error) {
			return domain.Category{ID: "cat_1", Name: "Ropa", Slug: "ropa", Active: true}, nil
		},
	}
	service := newTestCatalogService(t, CatalogServiceDeps{Categories: categories})

	_, err := service.UpdateCategory(context.Background(), UpdateCategoryCommand{
		CategoryID: "cat_1",
		ParentID:   strPtr("cat_1"),
	})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected ErrCatalogInvalidInput, got %v", err)
	}
}

func TestCatalogServiceResolveOrderItems(t *testing.T) {
	catalog := map[string]domain.Product{
		"sku1": {ID: "prd_1", SKU: "sku1", Name: "Camisa lino", Price: 100, Stock: 5, Active: true},
		"sku2": {ID: "prd_2", SKU: "sku2", Name: "Pantalón", Price: 250, Stock: 1, Active: true},
		"sku3": {ID: "prd_3", SKU: "sku3", Name: "Descatalogado", Price: 80, Stock: 9, Active: false},
	}
	products := &stubProductRepository{
		getBySKUFunc: func(ctx context.Context, sku string) (domain.Product, error) {
			product, ok := catalog[sku]
			if !ok {
				return domain.Product{}, &repositoryErrorStub{notFound: true}
			}
			return product, nil
		},
	}
	service := newTestCatalogService(t, CatalogServiceDeps{Products: products})

	resolved, err := service.ResolveOrderItems(context.Background(), []RequestedItem{{SKU: "sku1", Quantity: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("expected one resolved item, got %d", len(resolved))
	}
	line := resolved[0].Item
	if line.ProductID != "prd_1" || line.UnitPrice != 100 || line.Subtotal != 200 {
		t.Fatalf("unexpected snapshot %+v", line)
	}

	failures := map[string][]RequestedItem{
		"unknown sku":        {{SKU: "sku-missing", Quantity: 1}},
		"inactive product":   {{SKU: "sku3", Quantity: 1}},
		"insufficient stock": {{SKU: "sku2", Quantity: 3}},
		"partial failure":    {{SKU: "sku1", Quantity: 1}, {SKU: "sku-missing", Quantity: 1}},
	}
	for name, items := range failures {
		if _, err := service.ResolveOrderItems(context.Background(), items); !errors.Is(err, ErrOrderItemUnavailable) {
			t.Fatalf("%s: expected ErrOrderItemUnavailable, got %v", name, err)
		}
	}
}

func TestCatalogServiceCreateImageUploadTicket(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	ttl := 30 * time.Minute

	products := &stubProductRepository{
		getFunc: func(ctx context.Context, id string) (domain.Product, error) {
			return domain.Product{ID: id, Active: true}, nil
		},
	}
	var signedObject string
	signer := &stubUploadSigner{
		signFunc: func(ctx context.Context, object, contentType string, expiresAt time.Time) (string, string, error) {
			signedObject = object
			if contentType != "image/jpeg" {
				t.Fatalf("unexpected content type %q", contentType)
			}
			if !expiresAt.Equal(now.Add(ttl)) {
				t.Fatalf("unexpected expiry %v", expiresAt)
			}
			return "https://upload.example/signed", "https://cdn.example/" + object, nil
		},
	}
	service := newTestCatalogService(t, CatalogServiceDeps{
		Products:    products,
		Uploads:     signer,
		UploadTTL:   ttl,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01IMG" },
	})

	ticket, err := service.CreateImageUploadTicket(context.Background(), ImageUploadRequest{
		ProductID:   "prd_1",
		FileName:    "foto.jpg",
		ContentType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticket.UploadURL != "https://upload.example/signed" {
		t.Fatalf("unexpected upload url %q", ticket.UploadURL)
	}
	if !strings.Contains(signedObject, "prd_1") || !strings.HasSuffix(signedObject, ".jpg") {
		t.Fatalf("unexpected object path %q", signedObject)
	}
	if !ticket.ExpiresAt.Equal(now.Add(ttl)) {
		t.Fatalf("unexpected ticket expiry %v", ticket.ExpiresAt)
	}

	invalid := map[string]ImageUploadRequest{
		"missing product":   {FileName: "foto.jpg", ContentType: "image/jpeg"},
		"path traversal":    {ProductID: "prd_1", FileName: "../foto.jpg", ContentType: "image/jpeg"},
		"non-image content": {ProductID: "prd_1", FileName: "foto.pdf", ContentType: "application/pdf"},
		"missing file name": {ProductID: "prd_1", ContentType: "image/jpeg"},
	}
	for name, req := range invalid {
		if _, err := service.CreateImageUploadTicket(context.Background(), req); !errors.Is(err, ErrCatalogInvalidInput) {
			t.Fatalf("%s: expected ErrCatalogInvalidInput, got %v", name, err)
		}
	}
}

func TestCatalogServiceUploadsUnavailable(t *testing.T) {
	service := newTestCatalogService(t, CatalogServiceDeps{})

	_, err := service.CreateImageUploadTicket(context.Background(), ImageUploadRequest{
		ProductID:   "prd_1",
		FileName:    "foto.jpg",
		ContentType: "image/jpeg",
	})
	if !errors.Is(err, ErrCatalogUploadsUnavailable) {
		t.Fatalf("expected ErrCatalogUploadsUnavailable, got %v", err)
	}
}
