package database

import (
	"context"
	"fmt"
	"fuzzrig/config"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

type RedisParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.AppConfig
	Logger    *zap.Logger
}

// NewRedisClient connects the crash index. It returns nil when neither
// REDIS_URL nor REDIS_SENTINEL_HOSTS is set.
func NewRedisClient(p RedisParams) (*redis.Client, error) {
	client, err := newRedisClient(p.Config)
	if err != nil || client == nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	p.Logger.Debug("connected to redis", zap.String("addr", client.Options().Addr))

	p.Lifecycle.Append(fx.StopHook(client.Close))
	return client, nil
}

func newRedisClient(cfg *config.AppConfig) (*redis.Client, error) {
	switch {
	case cfg.RedisUrl != "":
		options, err := redis.ParseURL(cfg.RedisUrl)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		return redis.NewClient(options), nil
	case cfg.RedisSentinelHosts != "":
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.RedisMasterName,
			SentinelAddrs: strings.Split(cfg.RedisSentinelHosts, ","),
		}), nil
	default:
		return nil, nil
	}
}
