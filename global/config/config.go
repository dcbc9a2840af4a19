package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CONSULT_"

// Global 在 Load 成功后被替换；测试可直接改字段
var Global = Default()

func Default() *AppConfig {
	return &AppConfig{
		NodeID: 1,
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			WSPath:          "/ws",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{JWTAlg: "HS256", TokenTTL: 12 * time.Hour},
		Store: StoreConfig{
			Driver:      StoreMemory,
			MongoURI:    "mongodb://localhost:27017",
			MongoDB:     "consult",
			MaxPoolSize: 20,
		},
		Nats:  NatsConfig{SubjectPrefix: "consult.push"},
		Kafka: KafkaConfig{Topic: "consult.message-events", ClientID: "consultchat"},
		Upload: UploadConfig{
			Driver:        UploadLocal,
			Dir:           "./uploads",
			PublicBaseURL: "http://localhost:8080",
			MaxImageDim:   1600,
			MaxBytes:      25 << 20,
		},
		Chat: ChatConfig{
			SendBuffer:     256,
			ReadLimit:      64 << 10,
			PingPeriod:     25 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			EventsPerSec:   20,
			EventBurst:     40,
			TypingInterval: 300 * time.Millisecond,
		},
	}
}

// Load 默认值 -> yaml 文件（可选）-> .env -> CONSULT_* 环境变量
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	// .env 不存在不算错误；已存在的环境变量优先
	_ = godotenv.Load()

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	Global = cfg
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreMongo, StorePostgres:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == StorePostgres && c.Store.PostgresDSN == "" {
		return fmt.Errorf("config: store.postgresDsn required for postgres")
	}
	switch c.Upload.Driver {
	case UploadLocal:
	case UploadS3:
		if c.Upload.Bucket == "" {
			return fmt.Errorf("config: upload.bucket required for s3")
		}
	default:
		return fmt.Errorf("config: unknown upload driver %q", c.Upload.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwtSecret (CONSULT_JWT_SECRET) is required")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("config: nodeId %d out of range", c.NodeID)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(c *AppConfig, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = splitList(v)
		}
	}
	var firstErr error
	num := func(key string, dst *int64) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
				return
			}
			*dst = n
		}
	}

	num("NODE_ID", &c.NodeID)
	str("LOG_LEVEL", &c.Log.Level)
	str("HTTP_ADDR", &c.Server.HTTPAddr)
	str("GRPC_ADDR", &c.Server.GRPCAddr)
	list("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("STORE_DRIVER", &c.Store.Driver)
	str("MONGO_URI", &c.Store.MongoURI)
	str("MONGO_DB", &c.Store.MongoDB)
	str("MONGO_USER", &c.Store.MongoUser)
	str("MONGO_PASS", &c.Store.MongoPass)
	str("POSTGRES_DSN", &c.Store.PostgresDSN)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("NATS_URL", &c.Nats.URL)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("UPLOAD_DRIVER", &c.Upload.Driver)
	str("UPLOAD_DIR", &c.Upload.Dir)
	str("UPLOAD_BUCKET", &c.Upload.Bucket)
	str("UPLOAD_ENDPOINT", &c.Upload.Endpoint)
	str("UPLOAD_PUBLIC_URL", &c.Upload.PublicBaseURL)

	if v, ok := lookup(envPrefix + "REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sREDIS_DB: %w", envPrefix, err)
		}
		c.Redis.DB = n
	}
	return firstErr
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
