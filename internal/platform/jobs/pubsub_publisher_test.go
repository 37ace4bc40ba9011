package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/alma-estilo/api/internal/services"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.paid",
		OrderID:        "ord_01TEST",
		OrderNumber:    "AE-2026-000042",
		PreviousStatus: "pending",
		CurrentStatus:  "completed",
		ActorID:        "system",
		OccurredAt:     occurredAt,
		Metadata:       map[string]any{"paymentId": "T1"},
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != "order.paid" || payload.OrderID != "ord_01TEST" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurredAt) {
		t.Fatalf("unexpected occurredAt %v", payload.OccurredAt)
	}
	if payload.Metadata["paymentId"] != "T1" {
		t.Fatalf("unexpected metadata %#v", payload.Metadata)
	}

	attrs := messages[0].Attributes
	if attrs["type"] != "order.paid" || attrs["orderId"] != "ord_01TEST" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if attrs["status"] != "completed" {
		t.Fatalf("unexpected status attribute %q", attrs["status"])
	}
	if attrs["orderNumber"] != "AE-2026-000042" {
		t.Fatalf("unexpected order number attribute %q", attrs["orderNumber"])
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
