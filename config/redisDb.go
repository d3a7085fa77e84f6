package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

// GetRedisLock is nil while redis is not connected.
func GetRedisLock() *redislock.Client {
	return locker
}

func redisOptions() (*redis.Options, bool) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDRESS"))
	if addr == "" {
		return nil, false
	}
	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       EnvInt("REDIS_DB", 0),
		PoolSize: EnvInt("REDIS_POOL_SIZE", 20),
	}, true
}

// ConnectRedisWithRetry sets the global client and locker once redis answers.
// Redis is optional: without REDIS_ADDRESS period confirmation and plan finalization
// serialize on database row locks alone and the rate limiter stays off.
func ConnectRedisWithRetry(ctx context.Context) {
	opts, ok := redisOptions()
	log := GetLogger().WithFields(logrus.Fields{"field": "redis"})
	if !ok {
		log.Warn("REDIS_ADDRESS not set; distributed locks disabled")
		return
	}
	for attempt := 1; ; attempt++ {
		client := redis.NewClient(opts)
		err := client.Ping(ctx).Err()
		if err == nil {
			rdb = client
			locker = redislock.New(client)
			log.WithFields(logrus.Fields{"attempt": attempt, "addr": opts.Addr}).Info("connected to redis")
			return
		}
		_ = client.Close()
		sleep := retryBackoff(attempt)
		log.WithFields(logrus.Fields{"attempt": attempt, "addr": opts.Addr}).Warnf("failed to connect redis: %v; retrying in %s", err, sleep)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}
