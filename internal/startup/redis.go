package startup

import (
	"context"
	"time"

	redisstorage "github.com/connectly/internal/storage/redis"
)

// ConnectRedis подключает общий счётчик присутствия в Redis с повторами.
func ConnectRedis(ctx context.Context, url, keyPrefix string, maxWait time.Duration) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := retry(ctx, "redis", maxWait, 2*time.Second, func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(connCtx, url, keyPrefix)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	return client, err
}
