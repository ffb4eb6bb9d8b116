package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/interfaces"
	"github.com/akylbek/payment-system/pix-charges/internal/models"
)

// StateTopic carries every committed charge status change.
const StateTopic = "charge.state.changed"

var (
	_ interfaces.StatePublisher = (*KafkaPublisher)(nil)
	_ interfaces.StatePublisher = (*LogPublisher)(nil)
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

const (
	// DefaultPublishTimeout bounds one PublishState call.
	DefaultPublishTimeout = 2 * time.Second

	// stateBatchTimeout keeps a synchronous single-message write from waiting
	// out kafka-go's default one second batch window.
	stateBatchTimeout = 5 * time.Millisecond
)

// KafkaPublisher writes state events keyed by txid, so every event for one
// charge lands on the same partition in commit order.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaPublisher returns a publisher whose writes give up after timeout;
// a non-positive timeout means DefaultPublishTimeout.
func NewKafkaPublisher(writer MessageWriter, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &KafkaPublisher{writer: writer, timeout: timeout}
}

// NewStateWriter builds the writer for StateTopic.
func NewStateWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        StateTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: stateBatchTimeout,
	}
}

func (p *KafkaPublisher) PublishState(ctx context.Context, event models.StateEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode state event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TxID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish state event for %s: %w", event.TxID, err)
	}
	return nil
}

// LogPublisher records state events in the log when no brokers are
// configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishState(_ context.Context, event models.StateEvent) error {
	p.logger.Info("Charge state changed",
		zap.String("txid", event.TxID),
		zap.String("state", string(event.State)),
		zap.String("previous_state", string(event.PreviousState)),
	)
	return nil
}
