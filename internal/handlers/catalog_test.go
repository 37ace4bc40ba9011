package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/alma-estilo/api/internal/domain"
	"github.com/alma-estilo/api/internal/services"
)

type stubCatalogService struct {
	services.CatalogService

	createProductFunc     func(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error)
	updateProductFunc     func(ctx context.Context, cmd services.UpdateProductCommand) (domain.Product, error)
	deactivateProductFunc func(ctx context.Context, productID, actorID string) (domain.Product, error)
	getProductFunc        func(ctx context.Context, productID string) (domain.Product, error)
	listProductsFunc      func(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[domain.Product], error)
	createCategoryFunc    func(ctx context.Context, cmd services.CreateCategoryCommand) (domain.Category, error)
	getCategoryFunc       func(ctx context.Context, categoryID string) (domain.Category, error)
	listCategoriesFunc    func(ctx context.Context, filter services.CategoryListFilter) (domain.CursorPage[domain.Category], error)
	uploadTicketFunc      func(ctx context.Context, req services.ImageUploadRequest) (services.ImageUploadTicket, error)
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error) {
	return s.createProductFunc(ctx, cmd)
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpdateProductCommand) (domain.Product, error) {
	return s.updateProductFunc(ctx, cmd)
}

func (s *stubCatalogService) DeactivateProduct(ctx context.Context, productID, actorID string) (domain.Product, error) {
	return s.deactivateProductFunc(ctx, productID, actorID)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	return s.getProductFunc(ctx, productID)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	return s.listProductsFunc(ctx, filter)
}

func (s *stubCatalogService) CreateCategory(ctx context.Context, cmd services.CreateCategoryCommand) (domain.Category, error) {
	return s.createCategoryFunc(ctx, cmd)
}

func (s *stubCatalogService) GetCategory(ctx context.Context, categoryID string) (domain.Category, error) {
	return s.getCategoryFunc(ctx, categoryID)
}

func (s *stubCatalogService) ListCategories(ctx context.Context, filter services.CategoryListFilter) (domain.CursorPage[domain.Category], error) {
	return s.listCategoriesFunc(ctx, filter)
}

func (s *stubCatalogService) CreateImageUploadTicket(ctx context.Context, req services.ImageUploadRequest) (services.ImageUploadTicket, error) {
	return s.uploadTicketFunc(ctx, req)
}

func newCatalogRouter(catalog services.CatalogService) http.Handler {
	h := NewCatalogHandlers(catalog)
	r := chi.NewRouter()
	r.Route("/catalog", h.Routes)
	return r
}

func sampleProduct(active bool) domain.Product {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	return domain.Product{
		ID:        "prd_1",
		SKU:       "sku1",
		Name:      "Camisa lino",
		Price:     100,
		Currency:  "ARS",
		Stock:     5,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCatalogHandlersListProducts(t *testing.T) {
	var captured services.ProductListFilter
	catalog := &stubCatalogService{
		listProductsFunc: func(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[domain.Product], error) {
			captured = filter
			return domain.CursorPage[domain.Product]{
				Items:         []domain.Product{sampleProduct(true)},
				NextPageToken: "token-2",
			}, nil
		},
	}
	router := newCatalogRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/catalog/products?category_id=cat_1&tag=Verano", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !captured.ActiveOnly {
		t.Fatal("public listing must be scoped to active products")
	}
	if captured.CategoryID != "cat_1" || captured.Tag != "verano" {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if captured.Pagination.PageSize != defaultCatalogPageSize {
		t.Fatalf("expected default page size, got %d", captured.Pagination.PageSize)
	}

	var resp productListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "prd_1" || resp.NextPageToken != "token-2" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCatalogHandlersGetProduct(t *testing.T) {
	catalog := &stubCatalogService{
		getProductFunc: func(ctx context.Context, productID string) (domain.Product, error) {
			return sampleProduct(true), nil
		},
	}
	router := newCatalogRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/catalog/products/prd_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp productResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Product.ID != "prd_1" || resp.Product.Currency != "ARS" {
		t.Fatalf("unexpected product %+v", resp.Product)
	}
}

func TestCatalogHandlersGetProductInactiveHidden(t *testing.T) {
	catalog := &stubCatalogService{
		getProductFunc: func(ctx context.Context, productID string) (domain.Product, error) {
			return sampleProduct(false), nil
		},
	}
	router := newCatalogRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/catalog/products/prd_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for inactive product, got %d", rec.Code)
	}
}

func TestCatalogHandlersGetProductNotFound(t *testing.T) {
	catalog := &stubCatalogService{
		getProductFunc: func(ctx context.Context, productID string) (domain.Product, error) {
			return domain.Product{}, services.ErrCatalogNotFound
		},
	}
	router := newCatalogRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/catalog/products/prd_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCatalogHandlersListCategories(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	catalog := &stubCatalogService{
		listCategoriesFunc: func(ctx context.Context, filter services.CategoryListFilter) (domain.CursorPage[domain.Category], error) {
			if !filter.ActiveOnly {
				t.Fatal("public listing must be scoped to active categories")
			}
			return domain.CursorPage[domain.Category]{
				Items: []domain.Category{
					{ID: "cat_1", Name: "Ropa", Slug: "ropa", Active: true, CreatedAt: now},
				},
			}, nil
		},
	}
	router := newCatalogRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/catalog/categories", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp categoryListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Slug != "ropa" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCatalogHandlersGetCategoryInactiveHidden(t *testing.T) {
	catalog := &stubCatalogService{
		getCategoryFunc: func(ctx context.Context, categoryID string) (domain.Category, error) {
			return domain.Category{ID: categoryID, Name: "Archivo", Slug: "archivo"}, nil
		},
	}
	router := newCatalogRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/catalog/categories/cat_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for inactive category, got %d", rec.Code)
	}
}
