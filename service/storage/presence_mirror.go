package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"consultchat/logger"
	"consultchat/module/consult/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KV is the slice of Redis the mirror needs.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// RedisKV adapts a go-redis client.
type RedisKV struct{ C redis.Cmdable }

func (r RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.C.Set(ctx, key, value, ttl).Err()
}

func (r RedisKV) Del(ctx context.Context, key string) error {
	return r.C.Del(ctx, key).Err()
}

func (r RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.C.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// presence key: consult:presence:<kind>:<id>，value 为节点 id，TTL 控制有效期
func PresenceKey(k model.IdentityKey) string { return "consult:presence:" + k.String() }

type mirrorOp struct {
	key    model.IdentityKey
	online bool
}

// RedisPresenceMirror copies identity transitions into Redis so other
// services can ask whether a doctor is online. Writes happen on a worker;
// Online/Offline never block the caller.
type RedisPresenceMirror struct {
	kv      KV
	nodeID  string
	ttl     time.Duration
	refresh time.Duration
	ops     chan mirrorOp

	mu     sync.Mutex
	online map[model.IdentityKey]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
	log  *zap.Logger
}

type MirrorConfig struct {
	NodeID  string
	TTL     time.Duration // 默认 2m
	Refresh time.Duration // 默认 TTL/3
	Buffer  int
}

func NewRedisPresenceMirror(kv KV, c MirrorConfig) *RedisPresenceMirror {
	if c.TTL <= 0 {
		c.TTL = 2 * time.Minute
	}
	if c.Refresh <= 0 {
		c.Refresh = c.TTL / 3
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	m := &RedisPresenceMirror{
		kv:      kv,
		nodeID:  c.NodeID,
		ttl:     c.TTL,
		refresh: c.Refresh,
		ops:     make(chan mirrorOp, c.Buffer),
		online:  make(map[model.IdentityKey]struct{}),
		stop:    make(chan struct{}),
		log:     logger.Named("presence-mirror"),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *RedisPresenceMirror) Online(k model.IdentityKey)  { m.enqueue(mirrorOp{key: k, online: true}) }
func (m *RedisPresenceMirror) Offline(k model.IdentityKey) { m.enqueue(mirrorOp{key: k}) }

func (m *RedisPresenceMirror) enqueue(op mirrorOp) {
	select {
	case m.ops <- op:
	default:
		// 丢了也会在下次刷新时收敛
		m.log.Warn("mirror queue full, dropping", zap.String("key", op.key.String()), zap.Bool("online", op.online))
	}
}

// Lookup 查询某身份是否在任一节点在线
func (m *RedisPresenceMirror) Lookup(ctx context.Context, k model.IdentityKey) (nodeID string, online bool, err error) {
	return m.kv.Get(ctx, PresenceKey(k))
}

func (m *RedisPresenceMirror) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()
	for {
		select {
		case op := <-m.ops:
			m.apply(op)
		case <-ticker.C:
			m.refreshAll()
		case <-m.stop:
			for {
				select {
				case op := <-m.ops:
					m.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (m *RedisPresenceMirror) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := PresenceKey(op.key)

	m.mu.Lock()
	if op.online {
		m.online[op.key] = struct{}{}
	} else {
		delete(m.online, op.key)
	}
	m.mu.Unlock()

	var err error
	if op.online {
		err = m.kv.Set(ctx, key, m.nodeID, m.ttl)
	} else {
		err = m.kv.Del(ctx, key)
	}
	if err != nil {
		m.log.Warn("mirror write failed", zap.String("key", key), zap.Error(err))
	}
}

// refreshAll 续期本节点在线的全部身份
func (m *RedisPresenceMirror) refreshAll() {
	m.mu.Lock()
	keys := make([]model.IdentityKey, 0, len(m.online))
	for k := range m.online {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, k := range keys {
		if err := m.kv.Set(ctx, PresenceKey(k), m.nodeID, m.ttl); err != nil {
			m.log.Warn("mirror refresh failed", zap.String("key", k.String()), zap.Error(err))
		}
	}
}

// Close 写完队列后退出；本节点的 key 靠 TTL 过期
func (m *RedisPresenceMirror) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.wg.Wait()
}
