package natsx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Publisher 发布能力，测试里可替换
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error
}

// NatsxProducer 同步发布器（带重试）
type NatsxProducer struct {
	P       Publisher
	Retries int
	Backoff time.Duration
}

func NewNatsxProducer(p Publisher) *NatsxProducer {
	return &NatsxProducer{P: p, Retries: 2, Backoff: 200 * time.Millisecond}
}

func (sp *NatsxProducer) Publish(ctx context.Context, subject string, payload []byte, hdr map[string]string) error {
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.P.Publish(ctx, subject, payload, hdr)
		if err == nil || i == sp.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff * time.Duration(i+1)):
		}
	}
	return err
}

// 生成随机 msgID（16字节）
func genMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// PublishOnce：带 Nats-Msg-Id 的发布，JetStream 按它去重
// - msgID 为空则自动生成
func (sp *NatsxProducer) PublishOnce(ctx context.Context, subject string, data []byte, hdr map[string]string, msgID string) error {
	h := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		h[k] = v
	}
	if msgID == "" {
		msgID = genMsgID()
	}
	h["Nats-Msg-Id"] = msgID
	return sp.Publish(ctx, subject, data, h)
}
