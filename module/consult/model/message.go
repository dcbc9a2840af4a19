package model

import (
	"strings"
	"time"

	"consultchat/tools/errs"
)

const (
	MessageTableName = "messages"
	RoomTableName    = "rooms"
	DoctorTableName  = "doctors"
)

// MessageType 消息类型（tagged variant）
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageFile  MessageType = "FILE"
	MessageAudio MessageType = "AUDIO"
)

func ParseMessageType(s string) (MessageType, error) {
	switch t := MessageType(strings.ToUpper(strings.TrimSpace(s))); t {
	case MessageText, MessageImage, MessageFile, MessageAudio:
		return t, nil
	case "":
		return MessageText, nil
	default:
		return "", errs.ErrBadRequest.WrapMsg("unknown message type", "type", s)
	}
}

// IsBlob reports whether content holds a blob URL rather than a text body.
func (t MessageType) IsBlob() bool { return t != MessageText }

// MessageStatus Active -> Deleted，单向
type MessageStatus string

const (
	MessageActive  MessageStatus = "ACTIVE"
	MessageDeleted MessageStatus = "DELETED"
)

// Message 一条会诊消息。AuthorDoctorID 为空表示房间内的访客所发。
type Message struct {
	ID             string        `json:"id" bson:"_id"`
	RoomID         string        `json:"roomId" bson:"room_id"`
	AuthorDoctorID *int64        `json:"authorDoctorId,omitempty" bson:"author_doctor_id,omitempty"`
	Doctor         *DoctorCard   `json:"doctor,omitempty" bson:"-"` // 作者展示信息（读时解析）
	Type           MessageType   `json:"type" bson:"type"`
	Content        string        `json:"content" bson:"content"`
	ClientMsgID    string        `json:"clientMsgId,omitempty" bson:"client_msg_id,omitempty"` // 客户端幂等ID
	Seq            int64         `json:"-" bson:"seq"`                                         // 同毫秒内的插入顺序
	Status         MessageStatus `json:"status" bson:"status"`
	CreatedAt      time.Time     `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time     `json:"updatedAt" bson:"updated_at"`
	DeletedAt      *time.Time    `json:"-" bson:"deleted_at,omitempty"`
}

func (m *Message) IsGuestAuthored() bool { return m.AuthorDoctorID == nil }

func (m *Message) IsActive() bool { return m.Status == MessageActive }

// Clone 返回浅拷贝，指针字段另行复制，调用方可随意修改
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.AuthorDoctorID != nil {
		id := *m.AuthorDoctorID
		c.AuthorDoctorID = &id
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	if m.Doctor != nil {
		d := *m.Doctor
		c.Doctor = &d
	}
	return &c
}

// Before orders by createdAt, then by insertion sequence.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.Seq < o.Seq
}
