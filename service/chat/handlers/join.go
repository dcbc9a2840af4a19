package handlers

import (
	"consultchat/service/chat"
	"consultchat/tools/decode"
	"consultchat/tools/errs"
)

// JoinHandler join-room：绑定房间，回放历史，再单独补一份在线花名册
type JoinHandler struct{}

func NewJoinHandler() chat.Handler { return &JoinHandler{} }

func (h *JoinHandler) Event() string { return chat.EventJoinRoom }

func (h *JoinHandler) Handle(cc *chat.ChatContext, c *chat.WsConn, data any) (*chat.Ack, error) {
	roomID, err := decode.String(data, "roomId")
	if err != nil || roomID == "" {
		return nil, errs.ErrBadRequest.WrapMsg("roomId required")
	}
	if _, err := cc.S.Hub().Join(cc.Ctx, c, roomID); err != nil {
		return nil, err
	}
	cc.S.Send(c, chat.EventOnlineUsers, cc.S.Presence().Roster())
	return chat.OK(), nil
}
