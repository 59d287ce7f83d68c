package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis.
// Keys: job:<id> => JSON(Job); sorted set "jobs" scored by CreatedAt unix
// for listing.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) jobKey(id string) string { return fmt.Sprintf("job:%s", id) }

func (s *RedisStore) CreateJob(job *Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	key := s.jobKey(job.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, b, 0)
	pipe.ZAdd(ctx, "jobs", redis.Z{Score: float64(job.CreatedAt.Unix()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Advance(id string, next State, result StageResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	job, err := s.getJob(ctx, id)
	if err != nil {
		return err
	}
	if !ValidTransition(job.State, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, next)
	}
	apply(job, next, result)

	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.client.Set(ctx, s.jobKey(id), b, 0).Err()
}

func (s *RedisStore) GetJob(id string) (*Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.getJob(ctx, id)
}

func (s *RedisStore) getJob(ctx context.Context, id string) (*Job, error) {
	val, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(val, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) ListJobs() ([]*Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ids, err := s.client.ZRevRange(ctx, "jobs", 0, -1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.getJob(ctx, id)
		if err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (s *RedisStore) DeleteJob(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	exists, err := s.client.Exists(ctx, s.jobKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrJobNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.jobKey(id))
	pipe.ZRem(ctx, "jobs", id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
