package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alma-estilo/api/internal/payments"
	"github.com/alma-estilo/api/internal/platform/config"
	"github.com/alma-estilo/api/internal/repositories"
	"github.com/alma-estilo/api/internal/services"
)

// Infrastructure bundles runtime collaborators that live outside the
// repository layer: the payment provider manager, the event publisher,
// and the signed upload facility.
type Infrastructure struct {
	Payments *payments.Manager
	Events   services.OrderEventPublisher
	Uploads  services.UploadURLSigner
	Logger   *zap.Logger
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders  services.OrderService
	Catalog services.CatalogService
	System  services.SystemService
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config         config.Config
	Repositories   repositories.Registry
	Infrastructure Infrastructure
	Services       Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// Firestore-backed repositories, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg.Orders == nil {
		return nil, errors.New("di: order repository is required")
	}
	if reg.Products == nil || reg.Categories == nil {
		return nil, errors.New("di: catalog repositories are required")
	}
	if reg.Counters == nil {
		return nil, errors.New("di: counter repository is required")
	}

	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}

	svc, err := buildServices(cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:         cfg,
		Repositories:   reg,
		Infrastructure: infra,
		Services:       svc,
	}, nil
}

func buildServices(cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services

	eventLog := zapEventLogger(infra.Logger)

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:   reg.Products,
		Categories: reg.Categories,
		Uploads:    infra.Uploads,
		Clock:      time.Now,
		Logger:     eventLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	var gateway services.PaymentGateway
	if infra.Payments != nil {
		gateway = infra.Payments
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders,
		Counters:   reg.Counters,
		Catalog:    catalogSvc,
		Payments:   gateway,
		UnitOfWork: reg.UnitOfWork,
		BackURLs: payments.BackURLs{
			Success: cfg.Payments.SuccessURL,
			Pending: cfg.Payments.PendingURL,
			Failure: cfg.Payments.FailureURL,
		},
		StatementDescriptor: cfg.Payments.StatementDescriptor,
		ProviderTimeout:     cfg.Payments.ProviderTimeout,
		Clock:               time.Now,
		Events:              infra.Events,
		Logger:              eventLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if reg.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: reg.Health,
			Clock:            time.Now,
			Build: services.BuildInfo{
				Environment: cfg.Security.Environment,
				StartedAt:   time.Now().UTC(),
			},
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// zapEventLogger adapts the structured logger to the service-layer event callback.
func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zfields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zfields = append(zfields, zap.Any(key, value))
		}
		logger.Info(event, zfields...)
	}
}
