package settlement

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/everbloomhq/exchange/pkg/models"
)

// AuditPublisher receives the audit record emitted exactly once per
// successful fill or cancel. Publish failures are logged, not propagated: the
// settlement itself has already committed.
type AuditPublisher interface {
	PublishFill(ctx context.Context, ev models.FillEvent)
	PublishCancel(ctx context.Context, ev models.CancelEvent)
}

// KafkaPublisher writes audit records to a kafka topic as JSON, keyed by
// order fingerprint so per-order history stays ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) PublishFill(ctx context.Context, ev models.FillEvent) {
	p.publish(ctx, "fill", ev.Fingerprint.Bytes(), ev)
}

func (p *KafkaPublisher) PublishCancel(ctx context.Context, ev models.CancelEvent) {
	p.publish(ctx, "cancel", ev.Fingerprint.Bytes(), ev)
}

func (p *KafkaPublisher) publish(ctx context.Context, kind string, key []byte, ev interface{}) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("audit record marshal failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("audit record publish failed", zap.String("kind", kind), zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// MemoryPublisher collects audit records in process, for tests and embedded use.
type MemoryPublisher struct {
	mu      sync.Mutex
	Fills   []models.FillEvent
	Cancels []models.CancelEvent
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) PublishFill(_ context.Context, ev models.FillEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fills = append(p.Fills, ev)
}

func (p *MemoryPublisher) PublishCancel(_ context.Context, ev models.CancelEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Cancels = append(p.Cancels, ev)
}
