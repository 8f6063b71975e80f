package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gitea.jw6.us/james/washcal/internal/schedule"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// DefaultTopic carries calendar change messages.
const DefaultTopic = "washcal.calendar-changes"

// maxBufferedRecords bounds how many changes wait for an unreachable broker
// before new ones are dropped.
const maxBufferedRecords = 10000

// Producer is the subset of *kgo.Client used for publishing.
type Producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaConfig configures NewKafkaPublisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaPublisher forwards scheduling changes to Kafka so other services
// (notifications, reporting) can follow the calendar without polling.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   *zap.Logger
}

var _ schedule.Observer = (*KafkaPublisher)(nil)

// ChangeMessage is the JSON value of each record; the key is the event id.
type ChangeMessage struct {
	EventID string    `json:"eventId"`
	Op      string    `json:"op"`
	Kind    string    `json:"kind"`
	Status  string    `json:"status,omitempty"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	UserID  string    `json:"userId,omitempty"`
	At      time.Time `json:"at"`
}

func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "washcal"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.MaxBufferedRecords(maxBufferedRecords),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return newKafkaPublisher(client, cfg.Topic, logger), nil
}

func newKafkaPublisher(p Producer, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{producer: p, topic: topic, logger: logger}
}

// OnChange produces asynchronously and never waits for buffer space: when
// the client's buffer is full (brokers unreachable) the change is dropped
// and logged. The committed mutation is not affected either way.
func (p *KafkaPublisher) OnChange(c schedule.Change) {
	rec, err := buildRecord(p.topic, c)
	if err != nil {
		p.logger.Error("encode calendar change", zap.String("event_id", c.EventID), zap.Error(err))
		return
	}
	p.producer.TryProduce(context.Background(), rec, func(r *kgo.Record, err error) {
		if errors.Is(err, kgo.ErrMaxBuffered) {
			p.logger.Warn("dropped calendar change, producer buffer full",
				zap.String("event_id", string(r.Key)),
				zap.String("op", string(c.Op)),
			)
			return
		}
		if err != nil {
			p.logger.Warn("publish calendar change",
				zap.String("event_id", string(r.Key)),
				zap.String("topic", r.Topic),
				zap.Error(err),
			)
		}
	})
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	err := p.producer.Flush(ctx)
	p.producer.Close()
	return err
}

func buildRecord(topic string, c schedule.Change) (*kgo.Record, error) {
	value, err := json.Marshal(ChangeMessage{
		EventID: c.EventID,
		Op:      string(c.Op),
		Kind:    string(c.Event.Kind),
		Status:  string(c.Event.Status),
		Start:   c.Event.Start.UTC(),
		End:     c.Event.End.UTC(),
		UserID:  c.Event.Props.UserID,
		At:      c.At.UTC(),
	})
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(c.EventID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "op", Value: []byte(c.Op)},
			{Key: "kind", Value: []byte(c.Event.Kind)},
		},
		Timestamp: c.At,
	}, nil
}
