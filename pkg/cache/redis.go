package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/class-seat-booking/pkg/config"
)

const keyPrefix = "seatbooking"

// NewRedis returns a configured Redis client.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// Key joins parts under the service prefix, e.g. seatbooking:catalog:colid1:...
func Key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// TenantPattern matches every key cached for a tenant within a namespace.
func TenantPattern(namespace, tenantID string) string {
	return Key(namespace, tenantID, "*")
}
