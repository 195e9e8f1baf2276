package escalation

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Publisher is the slice of the message producer this package needs.
type Publisher interface {
	ProduceMessage(ctx context.Context, topic, key string, value []byte) error
}

// KafkaNotifier publishes escalation reports to a topic consumed by the
// escalation worker, which fans them out to on-call staff.
type KafkaNotifier struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewKafkaNotifier creates a notifier publishing to the given topic.
func NewKafkaNotifier(publisher Publisher, topic string, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{publisher: publisher, topic: topic, logger: logger}
}

// Notify publishes the report keyed by order ID so all events for one order
// land on the same partition.
func (n *KafkaNotifier) Notify(ctx context.Context, report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal escalation report: %w", err)
	}
	if err := n.publisher.ProduceMessage(ctx, n.topic, report.OrderID, payload); err != nil {
		return fmt.Errorf("publish escalation report: %w", err)
	}
	n.logger.Info("escalation published",
		zap.String("order_id", report.OrderID),
		zap.String("class", string(report.Class)))
	return nil
}
