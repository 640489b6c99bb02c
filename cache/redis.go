package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"order-svc/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	sweepLockKey = "order:expiry-sweep:lock"
	// SettledTTL bounds how long a settled payment id is remembered. Redelivery
	// later than this still resolves to a no-op in the database.
	SettledTTL = 24 * time.Hour
)

func InitRedis(cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

// Coordination keeps the small amount of cross-replica state the order
// service needs: which payment results were already settled and who runs the
// expiry sweep.
type Coordination struct {
	rdb   *redis.Client
	owner string
}

func NewCoordination(rdb *redis.Client) *Coordination {
	host, _ := os.Hostname()
	return &Coordination{
		rdb:   rdb,
		owner: fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

func settledKey(paymentID int64) string {
	return "order:payment-settled:" + strconv.FormatInt(paymentID, 10)
}

func (c *Coordination) IsSettled(ctx context.Context, paymentID int64) (bool, error) {
	n, err := c.rdb.Exists(ctx, settledKey(paymentID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Coordination) MarkSettled(ctx context.Context, paymentID int64) error {
	return c.rdb.Set(ctx, settledKey(paymentID), time.Now().UTC().Format(time.RFC3339), SettledTTL).Err()
}

// AcquireSweepLock takes the sweep lock for ttl. It reports false when another
// replica holds it.
func (c *Coordination) AcquireSweepLock(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, sweepLockKey, c.owner, ttl).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return ok, nil
}
