package loader

import (
	"bytes"
	"context"
	"io"

	"github.com/go-redis/redis/v8"
)

const (
	DefaultRedisKey = "policyd"
)

type redisLoaderOptions struct {
	db       int
	username string
	password string
	key      string
}

type RedisLoaderOption func(opts *redisLoaderOptions)

func DBRedisLoaderOption(db int) RedisLoaderOption {
	return func(opts *redisLoaderOptions) {
		opts.db = db
	}
}

func UsernameRedisLoaderOption(username string) RedisLoaderOption {
	return func(opts *redisLoaderOptions) {
		opts.username = username
	}
}

func PasswordRedisLoaderOption(password string) RedisLoaderOption {
	return func(opts *redisLoaderOptions) {
		opts.password = password
	}
}

func KeyRedisLoaderOption(key string) RedisLoaderOption {
	return func(opts *redisLoaderOptions) {
		opts.key = key
	}
}

type redisStringLoader struct {
	client *redis.Client
	key    string
}

// RedisStringLoader loads data from a redis string value.
func RedisStringLoader(addr string, opts ...RedisLoaderOption) Loader {
	var options redisLoaderOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	key := options.key
	if key == "" {
		key = DefaultRedisKey
	}

	return &redisStringLoader{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Username: options.username,
			Password: options.password,
			DB:       options.db,
		}),
		key: key,
	}
}

func (p *redisStringLoader) Load(ctx context.Context) (io.Reader, error) {
	v, err := p.client.Get(ctx, p.key).Bytes()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(v), nil
}

func (p *redisStringLoader) Close() error {
	return p.client.Close()
}
