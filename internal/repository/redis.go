package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"costwatch/internal/config"
	"costwatch/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisProgressCache хранит снимки задач синхронизации в Redis
type RedisProgressCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	client := redis.NewClient(options)

	return client
}

func NewRedisProgressCache(client *redis.Client, ttl time.Duration) *RedisProgressCache {
	return &RedisProgressCache{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisProgressCache) GetJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("sync_progress:%s", jobID)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job snapshot from redis: %w", err)
	}

	var job models.SyncJob
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job snapshot: %w", err)
	}

	return &job, nil
}

func (r *RedisProgressCache) SetJob(ctx context.Context, job *models.SyncJob) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("sync_progress:%s", job.ID)
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job snapshot: %w", err)
	}

	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set job snapshot in redis: %w", err)
	}

	return nil
}

func (r *RedisProgressCache) ClearJob(ctx context.Context, jobID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("sync_progress:%s", jobID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete job snapshot from redis: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
