package handlers

import (
	"consultchat/service/chat"
	"consultchat/tools/decode"
	"consultchat/tools/errs"
)

// TypingHandler 尽力而为：未加入该房间或限流时静默丢弃
type TypingHandler struct{}

func NewTypingHandler() chat.Handler { return &TypingHandler{} }

func (h *TypingHandler) Event() string { return chat.EventTyping }

func (h *TypingHandler) Handle(cc *chat.ChatContext, c *chat.WsConn, data any) (*chat.Ack, error) {
	roomID, err := decode.String(data, "roomId")
	if err != nil || roomID == "" {
		return nil, errs.ErrBadRequest.WrapMsg("roomId required")
	}
	if c.RoomID() == roomID {
		cc.S.Hub().Typing(roomID, c)
	}
	return chat.OK(), nil
}
