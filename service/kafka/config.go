package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

// Config 审计流的 Kafka 配置
type Config struct {
	Brokers           []string
	ClientID          string
	Topic             string
	Partitions        int32 // 单机=1；生产按房间量扩
	ReplicationFactor int16 // 单机=1；生产=3
	Retries           int
	Compression       string // none/snappy/lz4/zstd
	Version           sarama.KafkaVersion
	Buffer            int // 审计队列长度，满了丢弃
}

func DefaultConfig() Config {
	return Config{
		Brokers:           []string{"127.0.0.1:9092"},
		ClientID:          "consult-gateway",
		Topic:             "consult.message-events",
		Partitions:        8,
		ReplicationFactor: 1,
		Retries:           5,
		Compression:       "snappy",
		Version:           sarama.V2_1_0_0,
		Buffer:            1024,
	}
}

func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.Version
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.Retries <= 0 {
		c.Retries = 1
	}
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ Key=roomId，同房间同分区
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
