package domain

import (
	"strings"
	"time"
)

// DefaultCurrency is the ISO currency code used when a caller does not specify one.
const DefaultCurrency = "ARS"

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether the status has no outgoing transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderLineItem is a catalog snapshot captured when the order was created.
// Name and UnitPrice are frozen at creation time and never re-read from the catalog.
type OrderLineItem struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice int64
	Subtotal  int64
}

// OrderTotals aggregates the monetary totals of an order.
type OrderTotals struct {
	Currency string
	Subtotal int64
	Total    int64
}

// ComputeOrderTotals derives totals from the line items. The order total is
// always the sum of quantity*unit price over the items; it is never stored
// independently of them.
func ComputeOrderTotals(currency string, items []OrderLineItem) OrderTotals {
	currency = strings.TrimSpace(currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	totals := OrderTotals{Currency: currency}
	for _, item := range items {
		totals.Subtotal += int64(item.Quantity) * item.UnitPrice
	}
	totals.Total = totals.Subtotal
	return totals
}

// PaymentInfo links an order to its external payment provider artifacts.
type PaymentInfo struct {
	// PreferenceID identifies the redirect-style checkout the provider created.
	// It may be replaced by a retried preference creation while the order is pending.
	PreferenceID string
	// PaymentID is the provider-side payment identifier, recorded once by the
	// first reconciled notification that carries it.
	PaymentID string
	// InitPoint is the redirect URL the customer is sent to.
	InitPoint string
	Provider  string
}

// ShippingInfo captures the delivery details supplied at order creation.
type ShippingInfo struct {
	RecipientName string
	Street        string
	City          string
	State         string
	PostalCode    string
	Country       string
	Phone         string
}

// Order is the aggregate tracked through the payment lifecycle. Identity,
// owner, and the item snapshot are immutable after creation; only status,
// payment linkage, and timestamps change.
type Order struct {
	ID         string
	Number     string
	UserID     string
	Status     OrderStatus
	Items      []OrderLineItem
	Totals     OrderTotals
	Payment    PaymentInfo
	Shipping   ShippingInfo
	PayerEmail string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	PaidAt     *time.Time
}

// PaymentPreference is the provider-side checkout handle for an order.
type PaymentPreference struct {
	ID                string
	InitPoint         string
	ExternalReference string
	Provider          string
	CreatedAt         time.Time
}

// PaymentNotification is an asynchronous status report from the payment
// provider. ExternalReference carries the order id the preference was
// created with.
type PaymentNotification struct {
	ProviderPaymentID string
	ExternalReference string
	Status            string
	Provider          string
	EventID           string
	ReceivedAt        time.Time
}

// Product is a sellable catalog entry. Deleting a product deactivates it so
// historical orders keep resolving their snapshots.
type Product struct {
	ID          string
	SKU         string
	Name        string
	Description string
	Price       int64
	Currency    string
	CategoryID  string
	Stock       int
	Images      []string
	Tags        []string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category groups products. Slug is derived from the name and used in
// public listing URLs.
type Category struct {
	ID        string
	Name      string
	Slug      string
	ParentID  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RangeQuery bounds a field between two optional endpoints.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// CursorPage is a generic page of results with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
