package run

import (
	"context"
	"time"

	xerrors "AgentHive/internal/errors"
	"AgentHive/internal/llm"
)

// PollPolicy 控制运行状态的轮询节奏。
type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	// MaxAttempts 为 0 时不限制轮询次数。
	MaxAttempts int
}

// DefaultPollPolicy 每秒轮询一次且不限次数。
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: time.Second, MaxInterval: time.Second, Multiplier: 1}
}

func (p PollPolicy) normalized() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// Wait 在运行处于 queued 或 in_progress 时按退避间隔重新获取状态，直到离开该状态。
// 上下文取消时返回上下文错误，超过最大次数返回 TIMEOUT。
func (p PollPolicy) Wait(ctx context.Context, current llm.Run, fetch func(context.Context) (llm.Run, error)) (llm.Run, error) {
	p = p.normalized()
	delay := p.Interval
	attempts := 0

	for current.Status.Pending() {
		if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
			return current, xerrors.New(xerrors.CodeTimeout,
				"run "+current.ID+" still "+string(current.Status)+" after polling limit",
				xerrors.WithMetadata("run_id", current.ID))
		}
		attempts++

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return current, ctx.Err()
		case <-timer.C:
		}

		next, err := fetch(ctx)
		if err != nil {
			return current, err
		}
		current = next

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxInterval {
			delay = p.MaxInterval
		}
	}
	return current, nil
}
