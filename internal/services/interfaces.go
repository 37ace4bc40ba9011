package services

import (
	"context"
	"time"

	domain "github.com/alma-estilo/api/internal/domain"
	"github.com/alma-estilo/api/internal/repositories"
)

// Pagination carries cursor-based paging inputs shared by list operations.
type Pagination = repositories.Pagination

// OrderListFilter narrows order listings.
type OrderListFilter = repositories.OrderListFilter

// RequestedItem identifies a catalog product and quantity at order creation.
// Name and price are resolved from the catalog, never taken from the caller.
type RequestedItem struct {
	SKU      string
	Quantity int
}

// CreateOrderCommand captures the inputs for placing a new order.
type CreateOrderCommand struct {
	UserID     string
	Items      []RequestedItem
	Shipping   domain.ShippingInfo
	PayerEmail string
	Currency   string
	Metadata   map[string]any
}

// CancelOrderCommand captures an owner-initiated cancellation.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// ReconcileResult reports what a notification did to the order.
type ReconcileResult struct {
	Order        domain.Order
	Transitioned bool
	// Acknowledged is true when the notification carried no actionable
	// status and was accepted without touching the order.
	Acknowledged bool
}

// OrderService manages the order and payment lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	CreatePaymentPreference(ctx context.Context, orderID string) (domain.Order, error)
	ReconcileNotification(ctx context.Context, notification domain.PaymentNotification) (ReconcileResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
}

// ResolvedOrderItem is a catalog line resolved for order creation.
type ResolvedOrderItem struct {
	Item    domain.OrderLineItem
	Product domain.Product
}

// CreateProductCommand captures admin product creation inputs.
type CreateProductCommand struct {
	SKU         string
	Name        string
	Description string
	Price       int64
	Currency    string
	CategoryID  string
	Stock       int
	Images      []string
	Tags        []string
	ActorID     string
}

// UpdateProductCommand captures admin product updates. Nil fields are left unchanged.
type UpdateProductCommand struct {
	ProductID   string
	Name        *string
	Description *string
	Price       *int64
	CategoryID  *string
	Stock       *int
	Images      []string
	Tags        []string
	Active      *bool
	ActorID     string
}

// CreateCategoryCommand captures admin category creation inputs.
type CreateCategoryCommand struct {
	Name     string
	ParentID string
	ActorID  string
}

// UpdateCategoryCommand captures admin category updates.
type UpdateCategoryCommand struct {
	CategoryID string
	Name       *string
	ParentID   *string
	Active     *bool
	ActorID    string
}

// ProductListFilter narrows product listings.
type ProductListFilter = repositories.ProductListFilter

// CategoryListFilter narrows category listings.
type CategoryListFilter = repositories.CategoryListFilter

// ImageUploadRequest asks for a signed URL to upload a product image.
type ImageUploadRequest struct {
	ProductID   string
	FileName    string
	ContentType string
	ActorID     string
}

// ImageUploadTicket is the signed upload handle returned to admins.
type ImageUploadTicket struct {
	UploadURL string
	ObjectURL string
	ExpiresAt time.Time
}

// CatalogService manages products and categories and resolves order items.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (domain.Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (domain.Product, error)
	DeactivateProduct(ctx context.Context, productID, actorID string) (domain.Product, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)

	CreateCategory(ctx context.Context, cmd CreateCategoryCommand) (domain.Category, error)
	UpdateCategory(ctx context.Context, cmd UpdateCategoryCommand) (domain.Category, error)
	DeactivateCategory(ctx context.Context, categoryID, actorID string) (domain.Category, error)
	GetCategory(ctx context.Context, categoryID string) (domain.Category, error)
	ListCategories(ctx context.Context, filter CategoryListFilter) (domain.CursorPage[domain.Category], error)

	// ResolveOrderItems snapshots the requested items from the catalog,
	// enforcing product availability and stock.
	ResolveOrderItems(ctx context.Context, items []RequestedItem) ([]ResolvedOrderItem, error)

	// CreateImageUploadTicket issues a signed upload URL for a product image.
	CreateImageUploadTicket(ctx context.Context, req ImageUploadRequest) (ImageUploadTicket, error)
}

// SystemService exposes readiness information for health endpoints.
type SystemService interface {
	Ready(ctx context.Context) error
}
