package utils

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig 重试策略
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFactor   float64
}

// Retry 执行 fn，失败后按指数退避重试，直到成功、次数用尽或 ctx 取消
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	backoff := cfg.InitialBackoff
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}

		if err = fn(); err == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := min(applyJitter(backoff, cfg.JitterFactor), cfg.MaxBackoff)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		backoff = min(backoff*2, cfg.MaxBackoff)
	}
	return err
}

func applyJitter(duration time.Duration, factor float64) time.Duration {
	delta := int64(float64(duration) * factor)
	if delta <= 0 {
		return duration
	}
	return duration + time.Duration(rand.Int63n(2*delta)-delta)
}
