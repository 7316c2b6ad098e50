package payment

import (
	"time"

	"pimarket/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// newBreaker Pi API 熔断器：最近的请求失败率过高时直接失败，不再打到 Pi
func newBreaker(name string, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// 明确拒绝是业务结果，不算通道故障
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, rejected := err.(*RejectedError)
			return rejected
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			state := float64(0)
			switch to {
			case gobreaker.StateOpen:
				state = 1
			case gobreaker.StateHalfOpen:
				state = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(cbName).Set(state)

			logger.Warn().
				Str("circuit", cbName).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("熔断器状态变化")
		},
	})
}
