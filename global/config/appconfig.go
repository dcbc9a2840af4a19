package config

import "time"

// AppConfig 进程级配置，yaml / .env / CONSULT_* 环境变量三层覆盖
type AppConfig struct {
	NodeID int64         `yaml:"nodeId"` // 雪花节点号 0~1023
	Log    LogConfig     `yaml:"log"`
	Server ServerConfig  `yaml:"server"`
	Auth   AuthConfig    `yaml:"auth"`
	Store  StoreConfig   `yaml:"store"`
	Redis  RedisConfig   `yaml:"redis"`
	Nats   NatsConfig    `yaml:"nats"`
	Kafka  KafkaConfig   `yaml:"kafka"`
	Upload UploadConfig  `yaml:"upload"`
	Chat   ChatConfig    `yaml:"chat"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"httpAddr"`
	GRPCAddr        string        `yaml:"grpcAddr"` // 空 => 不启动 grpc health
	WSPath          string        `yaml:"wsPath"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	JWTAlg    string        `yaml:"jwtAlg"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
}

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

type StoreConfig struct {
	Driver      string `yaml:"driver"` // memory | mongo | postgres
	MongoURI    string `yaml:"mongoUri"`
	MongoDB     string `yaml:"mongoDb"`
	MongoUser   string `yaml:"mongoUser"`
	MongoPass   string `yaml:"mongoPass"`
	PostgresDSN string `yaml:"postgresDsn"`
	MaxPoolSize int    `yaml:"maxPoolSize"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // 空 => 不做在线镜像
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NatsConfig struct {
	URL           string `yaml:"url"` // 空 => 推送只打日志
	SubjectPrefix string `yaml:"subjectPrefix"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"` // 空 => 不投递审计事件
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"clientId"`
}

const (
	UploadLocal = "local"
	UploadS3    = "s3"
)

type UploadConfig struct {
	Driver        string `yaml:"driver"` // local | s3
	Dir           string `yaml:"dir"`
	PublicBaseURL string `yaml:"publicBaseUrl"`
	Bucket        string `yaml:"bucket"`
	Endpoint      string `yaml:"endpoint"` // minio / localstack
	MaxImageDim   int    `yaml:"maxImageDim"`
	MaxBytes      int64  `yaml:"maxBytes"`
}

type ChatConfig struct {
	SendBuffer     int           `yaml:"sendBuffer"`
	ReadLimit      int64         `yaml:"readLimit"`
	PingPeriod     time.Duration `yaml:"pingPeriod"`
	PongWait       time.Duration `yaml:"pongWait"`
	WriteWait      time.Duration `yaml:"writeWait"`
	EventsPerSec   float64       `yaml:"eventsPerSec"`
	EventBurst     int           `yaml:"eventBurst"`
	TypingInterval time.Duration `yaml:"typingInterval"`
}
