package repositories

import (
	"context"
	"time"

	"github.com/alma-estilo/api/internal/domain"
)

// RepositoryError classifies persistence failures so services can translate
// them without depending on the storage driver.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork coordinates multi-entity mutations within a single transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pagination carries cursor-based paging inputs shared by list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID    string
	Status    []domain.OrderStatus
	DateRange domain.RangeQuery[time.Time]
	Pagination
}

// OrderStatusMutation is applied inside CompareAndUpdateStatus after the
// expected-status check passed. It receives the freshly read order and
// returns the mutated copy to persist.
type OrderStatusMutation func(order domain.Order) (domain.Order, error)

// PaymentPreferenceUpdate carries the checkout linkage written after a
// provider preference call. The provider payment id is deliberately absent:
// it is recorded at most once, through RecordPaymentID or a status
// transition, and a preference write must never carry a stale copy of it.
type PaymentPreferenceUpdate struct {
	PreferenceID string
	InitPoint    string
	Provider     string
	UpdatedAt    time.Time
}

// OrderRepository persists orders.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// SetPaymentPreference atomically re-reads the order and replaces only the
	// preference linkage fields, leaving payment.paymentId untouched so a
	// reconciliation applied while the provider call was in flight survives.
	SetPaymentPreference(ctx context.Context, id string, pref PaymentPreferenceUpdate) (domain.Order, error)
	// RecordPaymentID stores the provider payment id unless one is already
	// recorded (first write wins) and returns the resulting order.
	RecordPaymentID(ctx context.Context, id, paymentID, provider string, updatedAt time.Time) (domain.Order, error)
	// CompareAndUpdateStatus atomically reads the order, verifies its status
	// equals expected, applies the mutation, and writes the result. A status
	// mismatch or a concurrent write surfaces as a conflict RepositoryError.
	CompareAndUpdateStatus(ctx context.Context, id string, expected, next domain.OrderStatus, apply OrderStatusMutation) (domain.Order, error)
}

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	CategoryID string
	ActiveOnly bool
	Tag        string
	Pagination
}

// ProductRepository persists catalog products.
type ProductRepository interface {
	Create(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Get(ctx context.Context, id string) (domain.Product, error)
	GetBySKU(ctx context.Context, sku string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// CategoryListFilter narrows category listings.
type CategoryListFilter struct {
	ActiveOnly bool
	ParentID   string
	Pagination
}

// CategoryRepository persists catalog categories.
type CategoryRepository interface {
	Create(ctx context.Context, category domain.Category) error
	Update(ctx context.Context, category domain.Category) error
	Get(ctx context.Context, id string) (domain.Category, error)
	GetBySlug(ctx context.Context, slug string) (domain.Category, error)
	List(ctx context.Context, filter CategoryListFilter) (domain.CursorPage[domain.Category], error)
}

// CounterRepository hands out monotonically increasing sequence values, used
// for human-friendly order numbers.
type CounterRepository interface {
	Next(ctx context.Context, name string) (int64, error)
}

// HealthRepository reports backend reachability for readiness probes.
type HealthRepository interface {
	Ping(ctx context.Context) error
}

// Registry aggregates the repository implementations handed to services.
type Registry struct {
	Orders     OrderRepository
	Products   ProductRepository
	Categories CategoryRepository
	Counters   CounterRepository
	Health     HealthRepository
	UnitOfWork UnitOfWork
}
