package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/alma-estilo/api/internal/domain"
	"github.com/alma-estilo/api/internal/payments"
	"github.com/alma-estilo/api/internal/platform/textutil"
	"github.com/alma-estilo/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventPaid          = "order.paid"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"

	ordersCounterName = "orders"

	defaultProviderTimeout = 10 * time.Second
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderItemUnavailable indicates a requested item cannot be sold.
	ErrOrderItemUnavailable = errors.New("order: item unavailable")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates an illegal status transition was attempted.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrPaymentProvider indicates the payment provider call failed.
	ErrPaymentProvider = errors.New("order: payment provider error")
	// ErrOrderConflict indicates concurrent updates that could not be resolved.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {
		domain.OrderStatusCompleted,
		domain.OrderStatusFailed,
		domain.OrderStatusCancelled,
	},
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// PaymentGateway is the slice of the payments manager the order service uses.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PreferenceRequest) (payments.Preference, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders              repositories.OrderRepository
	Counters            repositories.CounterRepository
	Catalog             CatalogService
	Payments            PaymentGateway
	UnitOfWork          repositories.UnitOfWork
	BackURLs            payments.BackURLs
	StatementDescriptor string
	ProviderTimeout     time.Duration
	Clock               func() time.Time
	IDGenerator         func() string
	Events              OrderEventPublisher
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders              repositories.OrderRepository
	counters            repositories.CounterRepository
	catalog             CatalogService
	payments            PaymentGateway
	unitOfWork          repositories.UnitOfWork
	backURLs            payments.BackURLs
	statementDescriptor string
	providerTimeout     time.Duration
	clock               func() time.Time
	newID               func() string
	events              OrderEventPublisher
	logger              func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	timeout := deps.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	return &orderService{
		orders:              deps.Orders,
		counters:            deps.Counters,
		catalog:             deps.Catalog,
		payments:            deps.Payments,
		unitOfWork:          unit,
		backURLs:            deps.BackURLs,
		statementDescriptor: strings.TrimSpace(deps.StatementDescriptor),
		providerTimeout:     timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.SKU) == "" {
			return domain.Order{}, fmt.Errorf("%w: item sku is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: item quantity must be positive", ErrOrderInvalidInput)
		}
	}
	if err := validateShipping(cmd.Shipping); err != nil {
		return domain.Order{}, err
	}

	resolved, err := s.catalog.ResolveOrderItems(ctx, cmd.Items)
	if err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.OrderLineItem, 0, len(resolved))
	for _, line := range resolved {
		items = append(items, line.Item)
	}

	now := s.now()
	order := domain.Order{
		ID:         s.nextOrderID(),
		UserID:     userID,
		Status:     domain.OrderStatusPending,
		Items:      items,
		Totals:     domain.ComputeOrderTotals(cmd.Currency, items),
		Shipping:   cmd.Shipping,
		PayerEmail: strings.TrimSpace(cmd.PayerEmail),
		Metadata:   cloneMap(cmd.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, err
	}
	order.Number = number

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Create(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata:      cloneMap(order.Metadata),
	})

	return order, nil
}

// CreatePaymentPreference asks the provider for a redirect-style checkout for
// the order. The external reference is the order id so asynchronous
// notifications can be routed back. The call is retryable: a later attempt
// replaces the stored preference. Provider failures never change order status.
func (s *orderService) CreatePaymentPreference(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if s.payments == nil {
		return domain.Order{}, fmt.Errorf("%w: payment gateway not configured", ErrPaymentProvider)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: cannot create preference for %s order", ErrOrderInvalidTransition, order.Status)
	}

	req := payments.PreferenceRequest{
		ExternalReference:   order.ID,
		Amount:              order.Totals.Total,
		Currency:            order.Totals.Currency,
		PayerEmail:          order.PayerEmail,
		BackURLs:            s.backURLs,
		StatementDescriptor: s.statementDescriptor,
		IdempotencyKey:      preferenceIdempotencyKey(order.ID),
		Metadata: textutil.NormalizeStringMap(map[string]string{
			"order_number": order.Number,
		}),
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, payments.PreferenceLineItem{
			Name:       item.Name,
			SKU:        item.SKU,
			Quantity:   int64(item.Quantity),
			UnitAmount: item.UnitPrice,
			Currency:   order.Totals.Currency,
		})
	}

	providerCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	pref, err := s.payments.CreatePreference(providerCtx, payments.PaymentContext{Currency: order.Totals.Currency}, req)
	if err != nil {
		s.logger(ctx, "order.preference.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return domain.Order{}, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}

	// The provider call can take seconds; a notification may have recorded a
	// payment id on the order in the meantime. The repository re-reads and
	// writes only the preference linkage, so that id is never clobbered.
	updated, err := s.orders.SetPaymentPreference(ctx, order.ID, repositories.PaymentPreferenceUpdate{
		PreferenceID: pref.ID,
		InitPoint:    pref.InitPoint,
		Provider:     pref.Provider,
		UpdatedAt:    s.now(),
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.preference.created", map[string]any{
		"order":      updated.ID,
		"preference": pref.ID,
		"provider":   pref.Provider,
	})

	return updated, nil
}

// ReconcileNotification applies an asynchronous provider status report to the
// order it references. Approved completes the order, rejected and cancelled
// fail it, pending and in-process leave the status untouched, and anything
// else is acknowledged without effect. Replays of an already applied outcome
// are no-ops.
func (s *orderService) ReconcileNotification(ctx context.Context, notification domain.PaymentNotification) (ReconcileResult, error) {
	reference := strings.TrimSpace(notification.ExternalReference)
	if reference == "" {
		return ReconcileResult{}, fmt.Errorf("%w: external reference is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.Get(ctx, reference)
	if err != nil {
		return ReconcileResult{}, s.mapRepositoryError(err)
	}

	status := payments.NormalizeStatus(notification.Status)
	paymentID := strings.TrimSpace(notification.ProviderPaymentID)

	var target domain.OrderStatus
	switch status {
	case payments.StatusApproved:
		target = domain.OrderStatusCompleted
	case payments.StatusRejected, payments.StatusCancelled:
		target = domain.OrderStatusFailed
	case payments.StatusPending, payments.StatusInProcess:
		return s.recordPendingNotification(ctx, order, paymentID, notification.Provider)
	default:
		s.logger(ctx, "order.notification.ignored", map[string]any{
			"order":  order.ID,
			"status": notification.Status,
		})
		return ReconcileResult{Order: order, Acknowledged: true}, nil
	}

	if order.Status == target {
		return ReconcileResult{Order: order}, nil
	}
	if order.Status.IsTerminal() {
		return ReconcileResult{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}
	if !canTransition(order.Status, target) {
		return ReconcileResult{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}

	now := s.now()
	updated, err := s.orders.CompareAndUpdateStatus(ctx, order.ID, order.Status, target, func(current domain.Order) (domain.Order, error) {
		if paymentID != "" && current.Payment.PaymentID == "" {
			current.Payment.PaymentID = paymentID
		}
		if provider := strings.TrimSpace(notification.Provider); provider != "" && current.Payment.Provider == "" {
			current.Payment.Provider = provider
		}
		if target == domain.OrderStatusCompleted && current.PaidAt == nil {
			current.PaidAt = &now
		}
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return s.resolveReconcileConflict(ctx, order.ID, target, err)
	}

	prev := order.Status
	s.logger(ctx, "order.notification.applied", map[string]any{
		"order":   updated.ID,
		"from":    string(prev),
		"to":      string(updated.Status),
		"payment": paymentID,
	})

	eventType := orderEventStatusChanged
	if updated.Status == domain.OrderStatusCompleted {
		eventType = orderEventPaid
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        updated.ID,
		OrderNumber:    updated.Number,
		PreviousStatus: string(prev),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     now,
		Metadata: map[string]any{
			"paymentId": updated.Payment.PaymentID,
			"provider":  updated.Payment.Provider,
		},
	})

	return ReconcileResult{Order: updated, Transitioned: true}, nil
}

// recordPendingNotification captures the provider payment id from an
// intermediate notification without transitioning the order.
func (s *orderService) recordPendingNotification(ctx context.Context, order domain.Order, paymentID, provider string) (ReconcileResult, error) {
	if order.Status != domain.OrderStatusPending || paymentID == "" || order.Payment.PaymentID != "" {
		return ReconcileResult{Order: order}, nil
	}

	// First write wins inside the repository transaction; a replay with a
	// different id returns the stored order unchanged.
	updated, err := s.orders.RecordPaymentID(ctx, order.ID, paymentID, strings.TrimSpace(provider), s.now())
	if err != nil {
		return ReconcileResult{}, s.mapRepositoryError(err)
	}
	return ReconcileResult{Order: updated}, nil
}

// resolveReconcileConflict handles a lost compare-and-set race. When the
// concurrent winner applied the same outcome the replay is a no-op; a
// different terminal outcome is an invalid transition.
func (s *orderService) resolveReconcileConflict(ctx context.Context, orderID string, target domain.OrderStatus, casErr error) (ReconcileResult, error) {
	var repoErr repositories.RepositoryError
	if !errors.As(casErr, &repoErr) || !repoErr.IsConflict() {
		return ReconcileResult{}, s.mapRepositoryError(casErr)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return ReconcileResult{}, s.mapRepositoryError(err)
	}
	if order.Status == target {
		return ReconcileResult{Order: order}, nil
	}
	if order.Status.IsTerminal() {
		return ReconcileResult{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}
	return ReconcileResult{}, fmt.Errorf("%w: %v", ErrOrderConflict, casErr)
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return order, nil
	}
	if !canTransition(order.Status, domain.OrderStatusCancelled) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusCancelled)
	}

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)

	updated, err := s.orders.CompareAndUpdateStatus(ctx, order.ID, order.Status, domain.OrderStatusCancelled, func(current domain.Order) (domain.Order, error) {
		if reason != "" {
			current.Metadata = ensureMap(current.Metadata)
			current.Metadata["cancelReason"] = reason
		}
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			refreshed, getErr := s.orders.Get(ctx, order.ID)
			if getErr == nil && refreshed.Status == domain.OrderStatusCancelled {
				return refreshed, nil
			}
			return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusCancelled)
		}
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.Number,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(updated.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata: map[string]any{
			"reason": reason,
		},
	})

	return updated, nil
}

func validateShipping(info domain.ShippingInfo) error {
	if strings.TrimSpace(info.RecipientName) == "" {
		return fmt.Errorf("%w: shipping recipient name is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(info.Street) == "" {
		return fmt.Errorf("%w: shipping street is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(info.City) == "" {
		return fmt.Errorf("%w: shipping city is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(info.PostalCode) == "" {
		return fmt.Errorf("%w: shipping postal code is required", ErrOrderInvalidInput)
	}
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, ordersCounterName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("AE-%04d-%06d", now.Year(), seq), nil
}

func preferenceIdempotencyKey(orderID string) string {
	sum := sha256.Sum256([]byte("preference:" + orderID))
	return hex.EncodeToString(sum[:])
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}
