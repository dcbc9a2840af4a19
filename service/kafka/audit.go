package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"consultchat/logger"
	"consultchat/module/consult/model"
	"consultchat/module/consult/service"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// AuditEvent 一条已提交变更的审计记录
type AuditEvent struct {
	Kind           string    `json:"kind"`
	RoomID         string    `json:"roomId"`
	MessageID      string    `json:"messageId"`
	AuthorDoctorID *int64    `json:"authorDoctorId,omitempty"`
	Type           string    `json:"type,omitempty"`
	Status         string    `json:"status"`
	Origin         string    `json:"origin"`
	At             time.Time `json:"at"`
}

func eventOf(m service.Mutation) AuditEvent {
	ev := AuditEvent{
		Kind:      string(m.Kind),
		RoomID:    m.RoomID,
		MessageID: m.MessageID,
		Origin:    m.Origin,
		At:        m.At,
	}
	switch {
	case m.Message != nil:
		ev.AuthorDoctorID = m.Message.AuthorDoctorID
		ev.Type = string(m.Message.Type)
		ev.Status = string(m.Message.Status)
	case m.Kind == service.MutationDeleted:
		ev.Status = string(model.MessageDeleted)
	default:
		ev.Status = string(model.MessageActive)
	}
	return ev
}

// AuditSink streams committed mutations to Kafka. Hook never blocks the
// room sequencer: when the queue is full the event is dropped and logged.
type AuditSink struct {
	prod  sarama.SyncProducer
	topic string
	ch    chan AuditEvent
	wg    sync.WaitGroup
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewAuditSink(prod sarama.SyncProducer, topic string, buffer int) *AuditSink {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &AuditSink{
		prod:  prod,
		topic: topic,
		ch:    make(chan AuditEvent, buffer),
		log:   logger.Named("audit"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Hook 作为提交钩子注册；Close 之后的事件直接丢弃
func (s *AuditSink) Hook(_ context.Context, m service.Mutation) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Debug("audit sink closed, dropping", zap.String("messageId", m.MessageID))
		return
	}
	select {
	case s.ch <- eventOf(m):
	default:
		s.log.Warn("audit queue full, dropping", zap.String("kind", string(m.Kind)), zap.String("messageId", m.MessageID))
	}
}

func (s *AuditSink) run() {
	defer s.wg.Done()
	for ev := range s.ch {
		body, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		_, _, err = s.prod.SendMessage(&sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(ev.RoomID),
			Value: sarama.ByteEncoder(body),
		})
		if err != nil {
			s.log.Warn("audit send failed", zap.String("messageId", ev.MessageID), zap.Error(err))
		}
	}
}

// Close 停止接收并发完队列里剩余事件
func (s *AuditSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
