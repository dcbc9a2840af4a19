package natsx

import (
	"context"
	"encoding/json"
	"strconv"

	"consultchat/logger"
	"consultchat/module/consult/service"

	"go.uber.org/zap"
)

// PushNotifier publishes guest-message notices to <prefix>.<doctorId> for
// the push worker to deliver.
type PushNotifier struct {
	prod   *NatsxProducer
	prefix string
}

func NewPushNotifier(prod *NatsxProducer, prefix string) *PushNotifier {
	if prefix == "" {
		prefix = "consult.push"
	}
	return &PushNotifier{prod: prod, prefix: prefix}
}

func (n *PushNotifier) Subject(doctorID int64) string {
	return n.prefix + "." + strconv.FormatInt(doctorID, 10)
}

func (n *PushNotifier) Notify(ctx context.Context, notice service.PushNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	hdr := map[string]string{"Content-Type": "application/json"}
	// 同一条消息重试不重复推送
	return n.prod.PublishOnce(ctx, n.Subject(notice.DoctorID), body, hdr, notice.MessageID)
}

// LogNotifier 未配置 NATS 时的兜底：只打日志
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, notice service.PushNotice) error {
	logger.Info("push notice",
		zap.Int64("doctorId", notice.DoctorID),
		zap.String("address", notice.Address),
		zap.String("roomId", notice.RoomID),
		zap.String("preview", notice.Preview))
	return nil
}
