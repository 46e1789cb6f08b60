package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/spi"
)

type Store struct {
	client *redis.Client
	prefix string
}

// Ensure Store implements the sink interfaces
var (
	_ spi.CheckpointStore = (*Store)(nil)
	_ spi.Rewinder        = (*Store)(nil)
)

func NewStore(addr string, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	return &Store{
		client: rdb,
		prefix: "sidekick:",
	}, nil
}

// NewStoreFromURL parses a redis:// URL
func NewStoreFromURL(rawurl string) (*Store, error) {
	opts, err := redis.ParseURL(rawurl)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid redis url %q", rawurl)
	}
	return NewStore(opts.Addr, opts.Password, opts.DB)
}

func (s *Store) checkpointKey(height uint64) string {
	return fmt.Sprintf("%scheckpoint:%d", s.prefix, height)
}

func (s *Store) Latest(ctx context.Context) (*core.BlockRef, error) {
	// key: sidekick:latest
	return s.get(ctx, s.prefix+"latest")
}

func (s *Store) Get(ctx context.Context, height uint64) (*core.BlockRef, error) {
	return s.get(ctx, s.checkpointKey(height))
}

func (s *Store) get(ctx context.Context, key string) (*core.BlockRef, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ref core.BlockRef
	if err := json.Unmarshal([]byte(val), &ref); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal checkpoint")
	}
	return &ref, nil
}

func (s *Store) Record(ctx context.Context, checkpoint core.BlockRef) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint")
	}

	pipe := s.client.TxPipeline()

	// key: sidekick:checkpoint:<height>
	pipe.Set(ctx, s.checkpointKey(checkpoint.Height), data, 0)
	// key: sidekick:latest
	pipe.Set(ctx, s.prefix+"latest", data, 0)

	_, err = pipe.Exec(ctx)
	return err
}

// Rewind deletes checkpoints above height and moves latest to the highest
// remaining checkpoint at or below it.
func (s *Store) Rewind(ctx context.Context, height uint64) error {
	latest, err := s.Latest(ctx)
	if err != nil {
		return err
	}
	if latest == nil || latest.Height <= height {
		return nil
	}

	var (
		keys      []string
		remaining *core.BlockRef
	)
	iter := s.client.Scan(ctx, 0, s.prefix+"checkpoint:*", 100).Iterator()
	for iter.Next(ctx) {
		var h uint64
		if _, err := fmt.Sscanf(iter.Val(), s.prefix+"checkpoint:%d", &h); err != nil {
			continue
		}
		if h > height {
			keys = append(keys, iter.Val())
			continue
		}
		if remaining == nil || h > remaining.Height {
			remaining = &core.BlockRef{Height: h}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}

	var data []byte
	if remaining != nil {
		if data, err = s.client.Get(ctx, s.checkpointKey(remaining.Height)).Bytes(); err != nil {
			return err
		}
	}

	pipe := s.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	if data == nil {
		pipe.Del(ctx, s.prefix+"latest")
	} else {
		pipe.Set(ctx, s.prefix+"latest", data, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Close() error {
	return s.client.Close()
}
