package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/orderflow/internal/inventory/application"
	orderdom "github.com/orderflow/orderflow/internal/order/domain"
	paymentdom "github.com/orderflow/orderflow/internal/payment/domain"
	"github.com/orderflow/orderflow/pkg/idempotency"
	"github.com/orderflow/orderflow/pkg/tracing"
)

// Consumer serves the reservation engine's inbound topics: reserve and
// release requests from the orchestrator, plus payment outcomes that
// confirm held stock as sold.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: group,
		GroupTopics: []string{
			orderdom.TopicInventoryReserve,
			orderdom.TopicInventoryRelease,
			paymentdom.TopicPaymentCompleted,
		},
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("inventory-consumer"),
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
	case orderdom.TopicInventoryReserve:
		var ev orderdom.InventoryReserveRequestEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error("unmarshal reserve request failed", "err", err)
			return nil
		}
		return c.svc.HandleReserveRequest(ctx, ev)

	case orderdom.TopicInventoryRelease:
		var ev orderdom.InventoryReleaseRequestEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error("unmarshal release request failed", "err", err)
			return nil
		}
		return c.svc.HandleReleaseRequest(ctx, ev.OrderID, ev.Reason)

	case paymentdom.TopicPaymentCompleted:
		var ev paymentdom.PaymentCompletedEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error("unmarshal payment completed failed", "err", err)
			return nil
		}
		return c.svc.HandlePaymentCompleted(ctx, ev.OrderID, ev.Success)
	}
	return nil
}
