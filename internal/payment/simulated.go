package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pimarket/internal/model"
)

// SimulatedRail 模拟支付通道，默认总是成功
type SimulatedRail struct {
	delay    time.Duration
	failRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedRail(delay time.Duration, failRate float64) *SimulatedRail {
	return &SimulatedRail{
		delay:    delay,
		failRate: failRate,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *SimulatedRail) Submit(ctx context.Context, trans *model.Transaction) (string, error) {
	if r.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.delay):
		}
	}

	if r.failRate > 0 && r.roll() < r.failRate {
		return "", &RejectedError{StatusCode: 402, Reason: "simulated payment failure"}
	}

	return fmt.Sprintf("pi_payment_%d", trans.ID), nil
}

func (r *SimulatedRail) roll() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}
