package events

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Publisher 把 MessageCreated 写入 Kafka。写入是异步的，失败只记录日志，
// 不影响已经提交的消息。
type Publisher struct {
	w *kafka.Writer
}

func NewPublisher(brokers, topic string) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(brokers)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("count", len(msgs)).Str("topic", topic).Msg("kafka publish failed")
			}
		},
	}
	return &Publisher{w: w}
}

func (p *Publisher) PublishMessage(ctx context.Context, e MessageCreated) error {
	value, err := Encode(e)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{Key: e.Key(), Value: value, Time: e.CreatedAt})
}

func (p *Publisher) Close() error { return p.w.Close() }

// NopPublisher 在未配置 Kafka 时使用。
type NopPublisher struct{}

func (NopPublisher) PublishMessage(context.Context, MessageCreated) error { return nil }
func (NopPublisher) Close() error                                         { return nil }

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
