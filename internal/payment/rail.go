// Package payment 对接 Pi 支付网络（支付通道）
package payment

import (
	"context"
	"fmt"

	"pimarket/internal/config"
	"pimarket/internal/model"
)

// Rail 支付通道
//
// Submit 成功时返回 Pi 侧的支付凭证（写入 provider_reference），
// 失败时返回的 error 文本会记录到交易的 notes。
type Rail interface {
	Submit(ctx context.Context, trans *model.Transaction) (reference string, err error)
}

// RejectedError Pi 明确拒绝了这笔支付
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payment rejected (%d): %s", e.StatusCode, e.Reason)
}

// NewRail 按配置选择通道：simulated 本地模拟，live 调用 Pi API
func NewRail(cfg *config.PiConfig) (Rail, error) {
	switch cfg.Mode {
	case "simulated":
		return NewSimulatedRail(cfg.SimulateDelay, cfg.SimulateFail), nil
	case "live":
		return NewPiRail(cfg), nil
	default:
		return nil, fmt.Errorf("未知的 pi.mode: %q", cfg.Mode)
	}
}
