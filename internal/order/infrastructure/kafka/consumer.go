package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	invdom "github.com/orderflow/orderflow/internal/inventory/domain"
	"github.com/orderflow/orderflow/internal/order/application"
	paydom "github.com/orderflow/orderflow/internal/payment/domain"
	"github.com/orderflow/orderflow/pkg/idempotency"
	"github.com/orderflow/orderflow/pkg/tracing"
)

type orchestrator interface {
	HandleInventoryReserved(ctx context.Context, orderID uuid.UUID, success bool, failureReason string) error
	HandlePaymentCompleted(ctx context.Context, orderID uuid.UUID, success bool, failureReason string) error
}

type deduper interface {
	Key(topic string, partition int, offset int64) string
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Consumer feeds collaborator outcomes back into the orchestrator.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    orchestrator
	idem   deduper
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: group,
		GroupTopics: []string{
			invdom.TopicInventoryReserved,
			paydom.TopicPaymentCompleted,
		},
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("order-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		if c.process(ctx, msg) {
			_ = c.reader.CommitMessages(ctx, msg)
		}
	}
}

// process handles one delivery and reports whether its offset may be
// committed. A failed delivery stays unmarked and uncommitted so the broker
// redelivers it.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		c.log.Error("idempotency check failed", "err", err)
		return false
	}
	if seen {
		c.log.Info("duplicate message skipped", "key", key)
		return true
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "Consume "+msg.Topic)
	err = c.handle(msgCtx, msg)
	span.End()
	if err != nil {
		c.log.Error("message handling failed", "topic", msg.Topic, "err", err)
		return false
	}

	if err := c.idem.Mark(ctx, key); err != nil {
		c.log.Error("idempotency mark failed", "err", err)
	}
	return true
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	switch msg.Topic {
	case invdom.TopicInventoryReserved:
		var ev invdom.InventoryReservedEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error("unmarshal inventory reserved failed", "err", err)
			return nil
		}
		return c.svc.HandleInventoryReserved(ctx, ev.OrderID, ev.Success, ev.FailureReason)

	case paydom.TopicPaymentCompleted:
		var ev paydom.PaymentCompletedEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error("unmarshal payment completed failed", "err", err)
			return nil
		}
		return c.svc.HandlePaymentCompleted(ctx, ev.OrderID, ev.Success, ev.FailureReason)
	}
	return nil
}
