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
	"github.com/alma-estilo/api/internal/platform/auth"
	"github.com/alma-estilo/api/internal/services"
)

func newAdminRouter(catalog services.CatalogService) http.Handler {
	h := NewAdminCatalogHandlers(nil, catalog)
	r := chi.NewRouter()
	r.Route("/admin", h.Routes)
	return r
}

func adminIdentity() *auth.Identity {
	return &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}
}

func TestAdminCatalogCreateProduct(t *testing.T) {
	var captured services.CreateProductCommand
	catalog := &stubCatalogService{
		createProductFunc: func(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error) {
			captured = cmd
			product := sampleProduct(true)
			product.SKU = cmd.SKU
			return product, nil
		},
	}
	router := newAdminRouter(catalog)

	body := `{"sku": "sku1", "name": "Camisa lino", "price": 100, "stock": 5, "currency": "ars"}`
	req := authenticatedRequest(http.MethodPost, "/admin/catalog/products", body, adminIdentity())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.SKU != "sku1" || captured.Price != 100 || captured.ActorID != "admin-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAdminCatalogCreateProductConflict(t *testing.T) {
	catalog := &stubCatalogService{
		createProductFunc: func(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error) {
			return domain.Product{}, services.ErrCatalogConflict
		},
	}
	router := newAdminRouter(catalog)

	body := `{"sku": "sku1", "name": "Camisa lino", "price": 100}`
	req := authenticatedRequest(http.MethodPost, "/admin/catalog/products", body, adminIdentity())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestAdminCatalogCreateProductUnauthenticated(t *testing.T) {
	router := newAdminRouter(&stubCatalogService{})

	req := authenticatedRequest(http.MethodPost, "/admin/catalog/products", `{}`, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminCatalogUpdateProduct(t *testing.T) {
	var captured services.UpdateProductCommand
	catalog := &stubCatalogService{
		updateProductFunc: func(ctx context.Context, cmd services.UpdateProductCommand) (domain.Product, error) {
			captured = cmd
			product := sampleProduct(true)
			product.Price = *cmd.Price
			return product, nil
		},
	}
	router := newAdminRouter(catalog)

	body := `{"price": 120, "active": false}`
	req := authenticatedRequest(http.MethodPatch, "/admin/catalog/products/prd_1", body, adminIdentity())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.ProductID != "prd_1" {
		t.Fatalf("unexpected product id %q", captured.ProductID)
	}
	if captured.Price == nil || *captured.Price != 120 {
		t.Fatalf("expected price pointer 120, got %+v", captured.Price)
	}
	if captured.Active == nil || *captured.Active {
		t.Fatalf("expected active pointer false, got %+v", captured.Active)
	}
	if captured.Name != nil {
		t.Fatalf("absent fields must stay nil, got name %+v", captured.Name)
	}
}

func TestAdminCatalogDeactivateProduct(t *testing.T) {
	catalog := &stubCatalogService{
		deactivateProductFunc: func(ctx context.Context, productID, actorID string) (domain.Product, error) {
			if productID != "prd_1" || actorID != "admin-1" {
				t.Fatalf("unexpected args %q %q", productID, actorID)
			}
			return sampleProduct(false), nil
		},
	}
	router := newAdminRouter(catalog)

	req := authenticatedRequest(http.MethodDelete, "/admin/catalog/products/prd_1", "", adminIdentity())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp productResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Product.Active {
		t.Fatal("expected deactivated product in response")
	}
}

func TestAdminCatalogSignImageUpload(t *testing.T) {
	expires := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	catalog := &stubCatalogService{
		uploadTicketFunc: func(ctx context.Context, req services.ImageUploadRequest) (services.ImageUploadTicket, error) {
			if req.ProductID != "prd_1" || req.FileName != "foto.jpg" || req.ContentType != "image/jpeg" {
				t.Fatalf("unexpected request %+v", req)
			}
			return services.ImageUploadTicket{
				UploadURL: "https://upload.example/signed",
				ObjectURL: "https://cdn.example/catalog/products/prd_1/images/x.jpg",
				ExpiresAt: expires,
			}, nil
		},
	}
	router := newAdminRouter(catalog)

	body := `{"file_name": "foto.jpg", "content_type": "image/jpeg"}`
	req := authenticatedRequest(http.MethodPost, "/admin/catalog/products/prd_1/images:sign", body, adminIdentity())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp imageUploadTicketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UploadURL != "https://upload.example/signed" || resp.ExpiresAt == "" {
		t.Fatalf("unexpected ticket %+v", resp)
	}
}

func TestAdminCatalogSignImageUploadUnavailable(t *testing.T) {
	catalog := &stubCatalogService{
		uploadTicketFunc: func(ctx context.Context, req services.ImageUploadRequest) (services.ImageUploadTicket, error) {
			return services.ImageUploadTicket{}, services.ErrCatalogUploadsUnavailable
		},
	}
	router := newAdminRouter(catalog)

	body := `{"file_name": "foto.jpg", "content_type": "image/jpeg"}`
	req := authenticatedRequest(http.MethodPost, "/admin/catalog/products/prd_1/images:sign", body, adminIdentity())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAdminCatalogCreateCategory(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	catalog := &stubCatalogService{
		createCategoryFunc: func(ctx context.Context, cmd services.CreateCategoryCommand) (domain.Category, error) {
			if cmd.Name != "Ropa" || cmd.ActorID != "admin-1" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return domain.Category{ID: "cat_1", Name: cmd.Name, Slug: "ropa", Active: true, CreatedAt: now}, nil
		},
	}
	router := newAdminRouter(catalog)

	req := authenticatedRequest(http.MethodPost, "/admin/catalog/categories", `{"name": "Ropa"}`, adminIdentity())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp categoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Category.Slug != "ropa" {
		t.Fatalf("unexpected category %+v", resp.Category)
	}
}
