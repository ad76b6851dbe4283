package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Handler 处理一条已解码的事件。
type Handler func(ctx context.Context, e MessageCreated) error

// Consumer 以消费组方式读取 MessageCreated。处理失败的事件只记录日志后提交，
// 重复投递由下游去重。
type Consumer struct {
	reader *kafka.Reader
	handle Handler
}

func NewConsumer(brokers, groupID, topic string, h Handler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        splitBrokers(brokers),
			GroupID:        groupID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		}),
		handle: h,
	}
}

// Serve 实现 suture.Service，ctx 取消时返回。
func (c *Consumer) Serve(ctx context.Context) error {
	cfg := c.reader.Config()
	log.Info().Str("group", cfg.GroupID).Str("topic", cfg.Topic).Strs("brokers", cfg.Brokers).Msg("kafka consumer started")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("kafka fetch")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		c.dispatch(ctx, m)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Warn().Err(err).Int64("offset", m.Offset).Msg("kafka commit")
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, m kafka.Message) {
	e, err := Decode(m.Value)
	if err != nil {
		log.Error().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("drop undecodable event")
		return
	}
	if err := c.handle(ctx, e); err != nil {
		log.Error().Err(err).Uint("message_id", e.MessageID).Uint("room_id", e.RoomID).Msg("handle event")
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }

func (c *Consumer) String() string { return "kafka-consumer" }
