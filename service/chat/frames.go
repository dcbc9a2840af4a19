package chat

import (
	"encoding/json"
	"fmt"

	"consultchat/module/consult/model"
	"consultchat/tools/errs"
)

// 入站事件
const (
	EventJoinRoom      = "join-room"
	EventSendMessage   = "send-message"
	EventEditMessage   = "edit-message"
	EventDeleteMessage = "delete-message"
	EventTyping        = "typing"
)

// 出站事件
const (
	EventInitialMessages = "initial-messages"
	EventNewMessage      = "new-message"
	EventEditedMessage   = "edited-message"
	EventDeletedMessage  = "deleted-message"
	EventUserOnline      = "user-online"
	EventUserOffline     = "user-offline"
	EventOnlineUsers     = "online-users"
	EventRoomStatus      = "room-status"
	EventAck             = "ack"
	EventException       = "exception"
)

// InFrame 客户端 -> 服务端
type InFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	AckID *int64 `json:"ackId,omitempty"`
}

// OutFrame 服务端 -> 客户端
type OutFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	AckID *int64 `json:"ackId,omitempty"`
}

// Ack is the point-to-point result of one inbound event.
type Ack struct {
	Success     bool           `json:"success"`
	Message     *model.Message `json:"message,omitempty"`
	ID          string         `json:"id,omitempty"`
	ClientMsgID string         `json:"clientMsgId,omitempty"`
	Error       string         `json:"error,omitempty"`
	Code        string         `json:"code,omitempty"`
}

func OK() *Ack { return &Ack{Success: true} }

// FailAck maps any error onto the wire taxonomy.
func FailAck(err error) *Ack {
	ce := errs.From(err)
	return &Ack{Success: false, Error: ce.Msg, Code: ce.Reason}
}

// MessageEvent new-message / edited-message
type MessageEvent struct {
	Message     *model.Message `json:"message"`
	ClientID    string         `json:"clientId"`
	ClientMsgID string         `json:"clientMsgId,omitempty"`
}

// DeletedEvent deleted-message
type DeletedEvent struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
}

// PresenceEvent user-online / user-offline
type PresenceEvent struct {
	ClientID string  `json:"clientId"`
	UserID   *string `json:"userId"`
}

type RoomStatusEvent struct {
	RoomID string           `json:"roomId"`
	Status model.RoomStatus `json:"status"`
}

type ExceptionEvent struct {
	Event string `json:"event"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func ParseFrameJSON(raw []byte) (*InFrame, error) {
	var f InFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("frame without event")
	}
	return &f, nil
}

// Encode 序列化出站帧；payload 只可能是本包定义的类型，失败即编程错误
func Encode(event string, data any) []byte {
	b, err := json.Marshal(OutFrame{Event: event, Data: data})
	if err != nil {
		panic(fmt.Sprintf("encode %s: %v", event, err))
	}
	return b
}

func EncodeAck(id int64, ack *Ack) []byte {
	b, err := json.Marshal(OutFrame{Event: EventAck, Data: ack, AckID: &id})
	if err != nil {
		panic(fmt.Sprintf("encode ack: %v", err))
	}
	return b
}
