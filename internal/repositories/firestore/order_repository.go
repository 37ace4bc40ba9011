package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/alma-estilo/api/internal/domain"
	pfirestore "github.com/alma-estilo/api/internal/platform/firestore"
	"github.com/alma-estilo/api/internal/repositories"
)

const ordersCollection = "orders"

type orderLineItemDocument struct {
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	Subtotal  int64  `firestore:"subtotal"`
}

type orderShippingDocument struct {
	RecipientName string `firestore:"recipientName"`
	Street        string `firestore:"street"`
	City          string `firestore:"city"`
	State         string `firestore:"state,omitempty"`
	PostalCode    string `firestore:"postalCode"`
	Country       string `firestore:"country,omitempty"`
	Phone         string `firestore:"phone,omitempty"`
}

type orderPaymentDocument struct {
	PreferenceID string `firestore:"preferenceId,omitempty"`
	PaymentID    string `firestore:"paymentId,omitempty"`
	InitPoint    string `firestore:"initPoint,omitempty"`
	Provider     string `firestore:"provider,omitempty"`
}

type orderDocument struct {
	Number     string                  `firestore:"number"`
	UserID     string                  `firestore:"userId"`
	Status     string                  `firestore:"status"`
	Items      []orderLineItemDocument `firestore:"items"`
	Currency   string                  `firestore:"currency"`
	Subtotal   int64                   `firestore:"subtotal"`
	Total      int64                   `firestore:"total"`
	Payment    orderPaymentDocument    `firestore:"payment"`
	Shipping   orderShippingDocument   `firestore:"shipping"`
	PayerEmail string                  `firestore:"payerEmail,omitempty"`
	Metadata   map[string]any          `firestore:"metadata,omitempty"`
	CreatedAt  time.Time               `firestore:"createdAt"`
	UpdatedAt  time.Time               `firestore:"updatedAt"`
	PaidAt     *time.Time              `firestore:"paidAt,omitempty"`
}

// OrderRepository persists orders within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Create persists a new order document keyed by the order ID.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.create", err)
	}
	return nil
}

// Get loads an order by ID.
func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, trimmed)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Status) == 1 {
			q = q.Where("status", "==", string(filter.Status[0]))
		} else if len(filter.Status) > 1 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<", filter.DateRange.To.UTC())
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
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(docs))}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[i-1]
			page.NextPageToken = encodeTimeCursor(last.Data.CreatedAt, last.ID)
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

// SetPaymentPreference stores the checkout preference linkage. The order is
// re-read inside the transaction and only the preference fields are replaced,
// so a payment id recorded while the provider call was in flight is kept.
func (r *OrderRepository) SetPaymentPreference(ctx context.Context, id string, pref repositories.PaymentPreferenceUpdate) (domain.Order, error) {
	return r.mutate(ctx, "orders.preference", id, func(current domain.Order) (domain.Order, bool) {
		current.Payment.PreferenceID = strings.TrimSpace(pref.PreferenceID)
		current.Payment.InitPoint = strings.TrimSpace(pref.InitPoint)
		if provider := strings.TrimSpace(pref.Provider); provider != "" {
			current.Payment.Provider = provider
		}
		current.UpdatedAt = pref.UpdatedAt
		return current, true
	})
}

// RecordPaymentID links a provider payment id to the order. The first recorded
// id wins; a later call with a different id leaves the document untouched and
// returns the stored order.
func (r *OrderRepository) RecordPaymentID(ctx context.Context, id, paymentID, provider string, updatedAt time.Time) (domain.Order, error) {
	trimmedPayment := strings.TrimSpace(paymentID)
	if trimmedPayment == "" {
		return domain.Order{}, errors.New("order repository: payment id is required")
	}
	return r.mutate(ctx, "orders.payment", id, func(current domain.Order) (domain.Order, bool) {
		if current.Payment.PaymentID != "" {
			return current, false
		}
		current.Payment.PaymentID = trimmedPayment
		if current.Payment.Provider == "" {
			current.Payment.Provider = strings.TrimSpace(provider)
		}
		current.UpdatedAt = updatedAt
		return current, true
	})
}

// mutate runs a read-apply-write cycle inside a transaction so payment writes
// never carry fields from a copy read before the transaction started. The
// apply func returns false to skip the write and keep the stored document.
func (r *OrderRepository) mutate(ctx context.Context, op, id string, apply func(domain.Order) (domain.Order, bool)) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, trimmed)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFoundError(op, fmt.Errorf("order %s not found", trimmed))
			}
			return err
		}

		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", trimmed, err)
		}

		mutated, write := apply(decodeOrder(snapshot.Ref.ID, doc))
		if write {
			if err := tx.Set(ref, encodeOrder(mutated)); err != nil {
				return err
			}
		}
		result = mutated
		return nil
	})
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) {
			return domain.Order{}, repoErr
		}
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return result, nil
}

// CompareAndUpdateStatus transitions the order status atomically. The document
// is read inside a transaction, its status checked against expected, the
// mutation applied, and the result written back. A mismatch surfaces as a
// conflict so callers can re-read and decide whether the outcome already holds.
func (r *OrderRepository) CompareAndUpdateStatus(ctx context.Context, id string, expected, next domain.OrderStatus, apply repositories.OrderStatusMutation) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, trimmed)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFoundError("orders.cas", fmt.Errorf("order %s not found", trimmed))
			}
			return err
		}

		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", trimmed, err)
		}

		current := decodeOrder(snapshot.Ref.ID, doc)
		if current.Status != expected {
			return pfirestore.NewConflictError("orders.cas", fmt.Errorf("order %s status is %s, expected %s", trimmed, current.Status, expected))
		}

		mutated := current
		mutated.Status = next
		if apply != nil {
			mutated, err = apply(mutated)
			if err != nil {
				return err
			}
			mutated.Status = next
		}

		if err := tx.Set(ref, encodeOrder(mutated)); err != nil {
			return err
		}
		updated = mutated
		return nil
	})
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) {
			return domain.Order{}, repoErr
		}
		return domain.Order{}, pfirestore.WrapError("orders.cas", err)
	}
	return updated, nil
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderLineItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineItemDocument{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}

	doc := orderDocument{
		Number:     order.Number,
		UserID:     strings.TrimSpace(order.UserID),
		Status:     string(order.Status),
		Items:      items,
		Currency:   order.Totals.Currency,
		Subtotal:   order.Totals.Subtotal,
		Total:      order.Totals.Total,
		PayerEmail: strings.TrimSpace(order.PayerEmail),
		Payment: orderPaymentDocument{
			PreferenceID: strings.TrimSpace(order.Payment.PreferenceID),
			PaymentID:    strings.TrimSpace(order.Payment.PaymentID),
			InitPoint:    strings.TrimSpace(order.Payment.InitPoint),
			Provider:     strings.TrimSpace(order.Payment.Provider),
		},
		Shipping: orderShippingDocument{
			RecipientName: order.Shipping.RecipientName,
			Street:        order.Shipping.Street,
			City:          order.Shipping.City,
			State:         order.Shipping.State,
			PostalCode:    order.Shipping.PostalCode,
			Country:       order.Shipping.Country,
			Phone:         order.Shipping.Phone,
		},
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	if len(order.Metadata) > 0 {
		doc.Metadata = order.Metadata
	}
	if order.PaidAt != nil {
		paidAt := order.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderLineItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}

	order := domain.Order{
		ID:     id,
		Number: doc.Number,
		UserID: doc.UserID,
		Status: domain.OrderStatus(doc.Status),
		Items:  items,
		Totals: domain.OrderTotals{
			Currency: doc.Currency,
			Subtotal: doc.Subtotal,
			Total:    doc.Total,
		},
		Payment: domain.PaymentInfo{
			PreferenceID: doc.Payment.PreferenceID,
			PaymentID:    doc.Payment.PaymentID,
			InitPoint:    doc.Payment.InitPoint,
			Provider:     doc.Payment.Provider,
		},
		Shipping: domain.ShippingInfo{
			RecipientName: doc.Shipping.RecipientName,
			Street:        doc.Shipping.Street,
			City:          doc.Shipping.City,
			State:         doc.Shipping.State,
			PostalCode:    doc.Shipping.PostalCode,
			Country:       doc.Shipping.Country,
			Phone:         doc.Shipping.Phone,
		},
		PayerEmail: doc.PayerEmail,
		Metadata:   doc.Metadata,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
		PaidAt:     doc.PaidAt,
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
