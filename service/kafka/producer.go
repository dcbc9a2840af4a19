package kafka

import (
	"github.com/Shopify/sarama"
)

// Client 持有底层 client 与同步生产者，一起关闭
type Client struct {
	client   sarama.Client
	Producer sarama.SyncProducer
}

// Dial 建连并确保审计 topic 存在
func Dial(c Config) (*Client, error) {
	cfg := BuildBaseConfig(c)
	cl, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, err
	}
	admin, err := sarama.NewClusterAdminFromClient(cl)
	if err != nil {
		_ = cl.Close()
		return nil, err
	}
	if err := EnsureTopic(admin, c); err != nil {
		_ = cl.Close()
		return nil, err
	}
	p, err := sarama.NewSyncProducerFromClient(cl)
	if err != nil {
		_ = cl.Close()
		return nil, err
	}
	return &Client{client: cl, Producer: p}, nil
}

func (c *Client) Close() error {
	if err := c.Producer.Close(); err != nil {
		_ = c.client.Close()
		return err
	}
	return c.client.Close()
}
