package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"moff.io/idconnect/internal/config"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

// RedisStore namespaces keys as "<namespace>:<key>" so several clients can share one server.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisStore(ctx context.Context, cred *config.DBCredential, namespace string) (*RedisStore, error) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	client := redis.NewClient(&redis.Options{
		Addr:     cred.GetRedisAddress(),
		Username: cred.User,
		Password: cred.Password,
		DB:       int(db),
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "ping to redis %s", cred.GetRedisAddress())
	}
	return NewRedisStoreWithClient(client, namespace), nil
}

func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "idconnect"
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (r *RedisStore) key(key string) string {
	return fmt.Sprintf("%s:%s", r.namespace, key)
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(r.client.Set(ctx, r.key(key), value, 0).Err(), "set %s", key)
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(r.client.Del(ctx, r.key(key)).Err(), "delete %s", key)
}

// Purge deletes every key under the namespace.
func (r *RedisStore) Purge(ctx context.Context) error {
	var (
		cursor uint64
		match        = r.key("*")
		count  int64 = 200
	)
	log.Debugf("deleting cache pattern %v", match)
	for {
		keys, c, err := r.client.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return errors.WrapAndReport(err, "scan caches")
		}
		cursor = c
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.WrapAndReport(err, "delete caches")
			}
		}
		if c == 0 {
			return nil
		}
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
