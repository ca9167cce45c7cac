package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*Redis)(nil)

// Config carries per-cluster connection and breaker settings.
type Config struct {
	Addrs        []string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Breaker      BreakerConfig
}

// Redis is the production store, one breaker per cluster. A universal client
// covers both single-node and cluster deployments; hash-tag discipline in the
// key space keeps pipelines single-slot either way.
type Redis struct {
	client  redis.UniversalClient
	breaker *Breaker
}

func NewRedis(cfg Config) *Redis {
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "state-store"
	}
	return &Redis{
		client: redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        cfg.Addrs,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}),
		breaker: NewBreaker(cfg.Breaker),
	}
}

// Ping verifies connectivity at boot.
func (r *Redis) Ping(ctx context.Context) error {
	return r.breaker.Do(ctx, "ping", func() error {
		return r.client.Ping(ctx).Err()
	})
}

// BreakerState exposes the breaker for health reporting.
func (r *Redis) BreakerState() string { return r.breaker.State() }

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	var val string
	err := r.breaker.Do(ctx, "hget", func() error {
		v, err := r.client.HGet(ctx, key, field).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNil
		}
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

func (r *Redis) HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	err := r.breaker.Do(ctx, "hmget", func() error {
		vals, err := r.client.HMGet(ctx, key, fields...).Result()
		if err != nil {
			return err
		}
		for i, v := range vals {
			if v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("store: hmget %s unexpected value type %T", key, v)
			}
			out[fields[i]] = s
		}
		return nil
	})
	return out, err
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := r.breaker.Do(ctx, "hgetall", func() error {
		m, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	return r.breaker.Do(ctx, "hset", func() error {
		return r.client.HSet(ctx, key, fields).Err()
	})
}

func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	return r.breaker.Do(ctx, "sadd", func() error {
		return r.client.SAdd(ctx, key, toAny(members)...).Err()
	})
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	return r.breaker.Do(ctx, "srem", func() error {
		return r.client.SRem(ctx, key, toAny(members)...).Err()
	})
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := r.breaker.Do(ctx, "smembers", func() error {
		m, err := r.client.SMembers(ctx, key).Result()
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.breaker.Do(ctx, "zadd", func() error {
		return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
}

func (r *Redis) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	var removed int64
	err := r.breaker.Do(ctx, "zrem", func() error {
		n, err := r.client.ZRem(ctx, key, toAny(members)...).Result()
		if err != nil {
			return err
		}
		removed = n
		return nil
	})
	return removed, err
}

func (r *Redis) ZRangeByScore(ctx context.Context, key, min, max string, rev bool) ([]string, error) {
	var out []string
	err := r.breaker.Do(ctx, "zrangebyscore", func() error {
		rng := &redis.ZRangeBy{Min: min, Max: max}
		var (
			members []string
			err     error
		)
		if rev {
			members, err = r.client.ZRevRangeByScore(ctx, key, rng).Result()
		} else {
			members, err = r.client.ZRangeByScore(ctx, key, rng).Result()
		}
		if err != nil {
			return err
		}
		out = members
		return nil
	})
	return out, err
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := r.breaker.Do(ctx, "get", func() error {
		v, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNil
		}
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.breaker.Do(ctx, "set", func() error {
		return r.client.Set(ctx, key, value, ttl).Err()
	})
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := r.breaker.Do(ctx, "setnx", func() error {
		v, err := r.client.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return err
		}
		ok = v
		return nil
	})
	return ok, err
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	var val int64
	err := r.breaker.Do(ctx, "incr", func() error {
		v, err := r.client.Incr(ctx, key).Result()
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	return r.breaker.Do(ctx, "del", func() error {
		return r.client.Del(ctx, keys...).Err()
	})
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.breaker.Do(ctx, "expire", func() error {
		return r.client.Expire(ctx, key, ttl).Err()
	})
}

func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	return r.breaker.Do(ctx, "publish", func() error {
		return r.client.Publish(ctx, channel, payload).Err()
	})
}

func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	var ps *redis.PubSub
	err := r.breaker.Do(ctx, "subscribe", func() error {
		ps = r.client.Subscribe(ctx, channel)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sub := &redisSub{ps: ps, ch: make(chan string, 256)}
	go sub.pump()
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan string
	once sync.Once
}

func (s *redisSub) pump() {
	for msg := range s.ps.Channel() {
		s.ch <- msg.Payload
	}
	close(s.ch)
}

func (s *redisSub) C() <-chan string { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

// --- pipeline ---------------------------------------------------------------

func (r *Redis) Pipeline() Pipe {
	return &redisPipe{r: r}
}

type redisPipe struct {
	r   *Redis
	ops []func(redis.Pipeliner)
}

func (p *redisPipe) HSet(key string, fields map[string]string) Pipe {
	p.ops = append(p.ops, func(pl redis.Pipeliner) { pl.HSet(context.Background(), key, fields) })
	return p
}

func (p *redisPipe) SAdd(key string, members ...string) Pipe {
	p.ops = append(p.ops, func(pl redis.Pipeliner) { pl.SAdd(context.Background(), key, toAny(members)...) })
	return p
}

func (p *redisPipe) SRem(key string, members ...string) Pipe {
	p.ops = append(p.ops, func(pl redis.Pipeliner) { pl.SRem(context.Background(), key, toAny(members)...) })
	return p
}

func (p *redisPipe) ZAdd(key string, score float64, member string) Pipe {
	p.ops = append(p.ops, func(pl redis.Pipeliner) { pl.ZAdd(context.Background(), key, redis.Z{Score: score, Member: member}) })
	return p
}

func (p *redisPipe) ZRem(key string, members ...string) Pipe {
	p.ops = append(p.ops, func(pl redis.Pipeliner) { pl.ZRem(context.Background(), key, toAny(members)...) })
	return p
}

func (p *redisPipe) Set(key, value string, ttl time.Duration) Pipe {
	p.ops = append(p.ops, func(pl redis.Pipeliner) { pl.Set(context.Background(), key, value, ttl) })
	return p
}

func (p *redisPipe) Del(keys ...string) Pipe {
	p.ops = append(p.ops, func(pl redis.Pipeliner) { pl.Del(context.Background(), keys...) })
	return p
}

func (p *redisPipe) Expire(key string, ttl time.Duration) Pipe {
	p.ops = append(p.ops, func(pl redis.Pipeliner) { pl.Expire(context.Background(), key, ttl) })
	return p
}

func (p *redisPipe) Exec(ctx context.Context) error {
	if len(p.ops) == 0 {
		return nil
	}
	return p.r.breaker.Do(ctx, "pipeline", func() error {
		_, err := p.r.client.Pipelined(ctx, func(pl redis.Pipeliner) error {
			for _, op := range p.ops {
				op(pl)
			}
			return nil
		})
		return err
	})
}

func toAny(members []string) []any {
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}
