// Package notify publishes order events for downstream consumers such as
// the email sender.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/optic-orders/internal/domain/order"
)

// messageWriter is the subset of *kafka.Writer used by Kafka.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Notifier = (*Kafka)(nil)

// Kafka publishes order events to a topic, keyed by order id so that all
// events of one order land on the same partition.
type Kafka struct {
	w       messageWriter
	brokers []string
}

// KafkaConfig configures NewKafka.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewKafka creates a synchronous publisher that waits for all in-sync
// replicas.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &Kafka{w: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, brokers: cfg.Brokers}, nil
}

// Notify implements order.Notifier.
func (k *Kafka) Notify(ctx context.Context, e order.Event) error {
	msg := kafka.Message{
		Key:   []byte(e.Order.ID),
		Value: Encode(e),
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Kind)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s for order %s", e.Kind, e.Order.ID)
	}
	return nil
}

// Ping dials the first reachable broker.
func (k *Kafka) Ping(ctx context.Context) error {
	var last error
	for _, addr := range k.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			last = err
			continue
		}
		return conn.Close()
	}
	if last == nil {
		last = errors.New("no brokers")
	}
	return errors.Wrap(last, "dial kafka")
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}

var _ order.Notifier = (*Log)(nil)

// Log writes order events to the logger. It is used when no broker is
// configured.
type Log struct {
	lg *zap.Logger
}

// NewLog creates a Log notifier.
func NewLog(lg *zap.Logger) *Log {
	return &Log{lg: lg}
}

// Notify implements order.Notifier.
func (l *Log) Notify(_ context.Context, e order.Event) error {
	l.lg.Info("Order event",
		zap.String("kind", string(e.Kind)),
		zap.String("order_id", e.Order.ID),
		zap.String("order_number", e.Order.Number),
		zap.String("status", string(e.Order.Status)),
		zap.String("payment_status", string(e.Order.PaymentStatus)),
	)
	return nil
}

// Encode renders the event envelope consumed by the notification workers.
func Encode(e order.Event) []byte {
	o := e.Order
	enc := &jx.Encoder{}
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("id", func(enc *jx.Encoder) {
			enc.Str(ulid.MustNew(ulid.Timestamp(e.OccurredAt), ulid.DefaultEntropy()).String())
		})
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Kind)) })
		enc.Field("occurredAt", func(enc *jx.Encoder) { enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano)) })
		enc.Field("order", func(enc *jx.Encoder) {
			enc.Obj(func(enc *jx.Encoder) {
				enc.Field("id", func(enc *jx.Encoder) { enc.Str(o.ID) })
				enc.Field("orderNumber", func(enc *jx.Encoder) { enc.Str(o.Number) })
				enc.Field("userId", func(enc *jx.Encoder) { enc.Str(o.UserID) })
				enc.Field("status", func(enc *jx.Encoder) { enc.Str(string(o.Status)) })
				enc.Field("paymentStatus", func(enc *jx.Encoder) { enc.Str(string(o.PaymentStatus)) })
				enc.Field("paymentMethod", func(enc *jx.Encoder) { enc.Str(string(o.PaymentMethod)) })
				enc.Field("total", func(enc *jx.Encoder) { enc.Num(jx.Num(o.Total.StringFixed(2))) })
				enc.Field("items", func(enc *jx.Encoder) {
					enc.Arr(func(enc *jx.Encoder) {
						for _, item := range o.Items {
							enc.Obj(func(enc *jx.Encoder) {
								enc.Field("productId", func(enc *jx.Encoder) { enc.Str(item.ProductID) })
								if item.VariantID != "" {
									enc.Field("variantId", func(enc *jx.Encoder) { enc.Str(item.VariantID) })
								}
								enc.Field("name", func(enc *jx.Encoder) { enc.Str(item.ProductName) })
								enc.Field("price", func(enc *jx.Encoder) { enc.Num(jx.Num(item.Price.StringFixed(2))) })
								enc.Field("quantity", func(enc *jx.Encoder) { enc.Int(item.Quantity) })
							})
						}
					})
				})
			})
		})
	})
	return enc.Bytes()
}
