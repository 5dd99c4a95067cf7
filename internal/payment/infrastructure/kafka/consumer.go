package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	orderdom "github.com/orderflow/orderflow/internal/order/domain"
	"github.com/orderflow/orderflow/internal/payment/application"
	"github.com/orderflow/orderflow/pkg/idempotency"
	"github.com/orderflow/orderflow/pkg/tracing"
)

// Consumer serves the processor's inbound topics: charge requests from the
// orchestrator and refund requests from the compensation path.
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
			orderdom.TopicPaymentRequest,
			orderdom.TopicPaymentRefund,
		},
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("payment-consumer"),
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
	var ev orderdom.PaymentRequestEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("unmarshal payment event failed", "topic", msg.Topic, "err", err)
		return nil
	}

	switch msg.Topic {
	case orderdom.TopicPaymentRequest:
		return c.svc.ProcessPayment(ctx, ev.OrderID, ev.CustomerID, ev.Amount, ev.Currency)
	case orderdom.TopicPaymentRefund:
		return c.svc.Refund(ctx, ev.OrderID, "order cancelled")
	}
	return nil
}
