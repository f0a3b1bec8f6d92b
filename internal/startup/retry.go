// Package startup подключает внешние зависимости сервиса с повторами при старте.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/connectly/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry вызывает attempt, пока он не вернёт nil, не истечёт maxWait или не отменят ctx.
// Пауза между попытками удваивается, начиная с backoff.
func retry(ctx context.Context, name string, maxWait, backoff time.Duration, attempt func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("%s: gave up after %v: %w", name, maxWait, err)
		}
		logger.Errorf("%s недоступен, повтор через %v: %v", name, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff = min(backoff*2, maxBackoff)
		}
	}
}
