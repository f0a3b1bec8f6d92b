package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Ключи по умолчанию: hash счётчиков и set онлайн-пользователей.
const (
	DefaultCountsKey = "presence:conns"
	DefaultOnlineKey = "presence:online"
)

// incrScript и decrScript держат hash и set согласованными атомарно.
var incrScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
if n == 1 then redis.call('SADD', KEYS[2], ARGV[1]) end
return n
`)

var decrScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('SREM', KEYS[2], ARGV[1])
  return 0
end
return n
`)

type Client struct {
	cli       *redis.Client
	countsKey string
	onlineKey string
}

// New подключается к Redis по URL. keyPrefix позволяет нескольким окружениям делить один Redis.
func New(ctx context.Context, url, keyPrefix string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cli, keyPrefix), nil
}

// NewWithClient оборачивает уже открытый клиент (например, из startup.ConnectRedis).
func NewWithClient(cli *redis.Client, keyPrefix string) *Client {
	return &Client{
		cli:       cli,
		countsKey: keyPrefix + DefaultCountsKey,
		onlineKey: keyPrefix + DefaultOnlineKey,
	}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Incr(ctx context.Context, userID string) (int64, error) {
	n, err := incrScript.Run(ctx, c.cli, []string{c.countsKey, c.onlineKey}, userID).Int64()
	if err != nil {
		return 0, fmt.Errorf("presence incr: %w", err)
	}
	return n, nil
}

func (c *Client) Decr(ctx context.Context, userID string) (int64, error) {
	n, err := decrScript.Run(ctx, c.cli, []string{c.countsKey, c.onlineKey}, userID).Int64()
	if err != nil {
		return 0, fmt.Errorf("presence decr: %w", err)
	}
	return n, nil
}

func (c *Client) Count(ctx context.Context, userID string) (int64, error) {
	n, err := c.cli.HGet(ctx, c.countsKey, userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("presence count: %w", err)
	}
	return n, nil
}

func (c *Client) Online(ctx context.Context) ([]string, error) {
	ids, err := c.cli.SMembers(ctx, c.onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence online: %w", err)
	}
	return ids, nil
}

// Reset удаляет оба ключа. Вызывать только если этот процесс единственный владелец ключей.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.cli.Del(ctx, c.countsKey, c.onlineKey).Err(); err != nil {
		return fmt.Errorf("presence reset: %w", err)
	}
	return nil
}
