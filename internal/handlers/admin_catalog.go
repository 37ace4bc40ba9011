package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alma-estilo/api/internal/platform/auth"
	"github.com/alma-estilo/api/internal/platform/httpx"
	"github.com/alma-estilo/api/internal/services"
)

const maxAdminCatalogBodySize = 64 * 1024

type createProductRequest struct {
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       int64    `json:"price"`
	Currency    string   `json:"currency"`
	CategoryID  string   `json:"category_id"`
	Stock       int      `json:"stock"`
	Images      []string `json:"images"`
	Tags        []string `json:"tags"`
}

type updateProductRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *int64   `json:"price"`
	CategoryID  *string  `json:"category_id"`
	Stock       *int     `json:"stock"`
	Images      []string `json:"images"`
	Tags        []string `json:"tags"`
	Active      *bool    `json:"active"`
}

type createCategoryRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type updateCategoryRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parent_id"`
	Active   *bool   `json:"active"`
}

type imageUploadRequestBody struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

// AdminCatalogHandlers exposes catalog write endpoints for staff and admins.
type AdminCatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewAdminCatalogHandlers constructs a new AdminCatalogHandlers instance.
func NewAdminCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{
		authn:   authn,
		catalog: catalog,
	}
}

// Routes registers the /admin/catalog endpoints.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/catalog", func(group chi.Router) {
		if h.authn != nil {
			group.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
		}
		group.Post("/products", h.createProduct)
		group.Patch("/products/{productID}", h.updateProduct)
		group.Delete("/products/{productID}", h.deactivateProduct)
		group.Post("/products/{productID}/images:sign", h.signImageUpload)
		group.Post("/categories", h.createCategory)
		group.Patch("/categories/{categoryID}", h.updateCategory)
		group.Delete("/categories/{categoryID}", h.deactivateCategory)
	})
}

func (h *AdminCatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminCatalogBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createProductRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		SKU:         strings.TrimSpace(req.SKU),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Price:       req.Price,
		Currency:    strings.TrimSpace(req.Currency),
		CategoryID:  strings.TrimSpace(req.CategoryID),
		Stock:       req.Stock,
		Images:      req.Images,
		Tags:        req.Tags,
		ActorID:     strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminCatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminCatalogBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateProductRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, services.UpdateProductCommand{
		ProductID:   productID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		CategoryID:  req.CategoryID,
		Stock:       req.Stock,
		Images:      req.Images,
		Tags:        req.Tags,
		Active:      req.Active,
		ActorID:     strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminCatalogHandlers) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.DeactivateProduct(ctx, productID, strings.TrimSpace(identity.UID))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminCatalogHandlers) signImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminCatalogBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req imageUploadRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	ticket, err := h.catalog.CreateImageUploadTicket(ctx, services.ImageUploadRequest{
		ProductID:   productID,
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: strings.TrimSpace(req.ContentType),
		ActorID:     strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, imageUploadTicketResponse{
		UploadURL: ticket.UploadURL,
		ObjectURL: ticket.ObjectURL,
		ExpiresAt: formatTime(ticket.ExpiresAt),
	})
}

func (h *AdminCatalogHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminCatalogBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createCategoryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	category, err := h.catalog.CreateCategory(ctx, services.CreateCategoryCommand{
		Name:     strings.TrimSpace(req.Name),
		ParentID: strings.TrimSpace(req.ParentID),
		ActorID:  strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, categoryResponse{Category: buildCategoryPayload(category)})
}

func (h *AdminCatalogHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminCatalogBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateCategoryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	category, err := h.catalog.UpdateCategory(ctx, services.UpdateCategoryCommand{
		CategoryID: categoryID,
		Name:       req.Name,
		ParentID:   req.ParentID,
		Active:     req.Active,
		ActorID:    strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, categoryResponse{Category: buildCategoryPayload(category)})
}

func (h *AdminCatalogHandlers) deactivateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category id is required", http.StatusBadRequest))
		return
	}

	category, err := h.catalog.DeactivateCategory(ctx, categoryID, strings.TrimSpace(identity.UID))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, categoryResponse{Category: buildCategoryPayload(category)})
}

type imageUploadTicketResponse struct {
	UploadURL string `json:"upload_url"`
	ObjectURL string `json:"object_url"`
	ExpiresAt string `json:"expires_at"`
}
