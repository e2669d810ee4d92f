// Package redisstore keeps short-lived processed markers so duplicate
// change-feed deliveries and queue replays never re-apply side effects.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func Dial(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// MarkProcessed claims key atomically and reports whether this caller
// won (true = first time seen). The claim is a lease: until Complete
// promotes it, it expires after ttl and the work becomes claimable
// again.
func (s *Store) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, "processed:"+key, "running", ttl).Result()
}

// Complete promotes a claim to a durable done marker so replays keep
// short-circuiting long after the lease would have lapsed.
func (s *Store) Complete(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Set(ctx, "processed:"+key, "done", ttl).Err()
}

// Done reports whether key's work finished. A live lease held by a
// crashed worker reads as not done.
func (s *Store) Done(ctx context.Context, key string) (bool, error) {
	v, err := s.rdb.Get(ctx, "processed:"+key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "done", nil
}

// Unmark releases a claim so a failed unit of work can be redelivered.
func (s *Store) Unmark(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, "processed:"+key).Err()
}
