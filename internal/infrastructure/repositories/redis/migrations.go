package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const schemaVersionKey = "sfucore:schema:version"

// keyMigration rewrites keys left behind by an older layout.
type keyMigration struct {
	version int
	name    string
	up      func(ctx context.Context, client *redis.Client) error
}

var keyMigrations = []keyMigration{
	{version: 1, name: "expire room invite indexes", up: expireRoomIndexes},
}

// Migrate applies every key migration newer than the stored version.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	current, err := client.Get(ctx, schemaVersionKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range keyMigrations {
		if m.version <= current {
			continue
		}
		logger.Infow("running key migration", "version", m.version, "name", m.name)
		if err := m.up(ctx, client); err != nil {
			return fmt.Errorf("key migration %d (%s): %w", m.version, m.name, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.version, 0).Err(); err != nil {
			return fmt.Errorf("store schema version %d: %w", m.version, err)
		}
		current = m.version
	}
	return nil
}

// expireRoomIndexes drops room invite indexes written without an expiry;
// they would pin revoked codes forever.
func expireRoomIndexes(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, roomInvitePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ttl, err := client.TTL(ctx, iter.Val()).Result()
		if err != nil {
			return err
		}
		if ttl >= 0 {
			continue
		}
		if err := client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
