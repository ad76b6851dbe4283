package push

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig 控制熔断阈值。
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Timeout: 30 * time.Second}
}

// BreakerSender 在推送服务持续失败时熔断，避免每条消息都等待超时。
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[BatchResult]
}

func NewBreakerSender(next Sender, cfg BreakerConfig) *BreakerSender {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	settings := gobreaker.Settings{
		Name:        "fcm",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &BreakerSender{next: next, cb: gobreaker.NewCircuitBreaker[BatchResult](settings)}
}

func (b *BreakerSender) Send(ctx context.Context, tokens []string, n Notification) (BatchResult, error) {
	return b.cb.Execute(func() (BatchResult, error) {
		return b.next.Send(ctx, tokens, n)
	})
}

func (b *BreakerSender) State() gobreaker.State { return b.cb.State() }
