package redis

import (
	"context"
	"time"

	"consultchat/tools/errs"

	"github.com/redis/go-redis/v9"
)

// Config 在线镜像用的 Redis 连接参数
type Config struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int           // 0 => go-redis 默认
	DialTimeout time.Duration // 默认 3s
}

// Open connects and pings once so a bad address fails at startup rather
// than on the first presence transition.
func Open(ctx context.Context, c Config) (*redis.Client, error) {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.DialTimeout,
		WriteTimeout: c.DialTimeout,
	})

	pctx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.IO(err, "redis ping "+c.Addr)
	}
	return rdb, nil
}
