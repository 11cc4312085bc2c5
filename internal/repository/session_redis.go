package repository

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// redisSessionStore one string key per user
type redisSessionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionStore creates a SessionStore keyed as <prefix><user>
func NewRedisSessionStore(client *redis.Client, prefix string) SessionStore {
	return &redisSessionStore{client: client, prefix: prefix}
}

func (r *redisSessionStore) key(user string) string {
	return r.prefix + user
}

func (r *redisSessionStore) Get(ctx context.Context, user string) (string, error) {
	id, err := r.client.Get(ctx, r.key(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	return id, err
}

func (r *redisSessionStore) Set(ctx context.Context, user, withdrawalID string) error {
	return r.client.Set(ctx, r.key(user), withdrawalID, 0).Err()
}

func (r *redisSessionStore) Clear(ctx context.Context, user string) error {
	return r.client.Del(ctx, r.key(user)).Err()
}

func (r *redisSessionStore) Users(ctx context.Context) ([]string, error) {
	var users []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		users = append(users, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(users)
	return users, nil
}
