package handlers

import (
	"consultchat/module/consult/model"
	"consultchat/module/consult/service"
	"consultchat/service/chat"
	"consultchat/tools/decode"
	"consultchat/tools/errs"
)

// ===== 入站负载 =====

type sendPayload struct {
	RoomID      string `json:"roomId"`
	DoctorID    *int64 `json:"doctorId"`
	Type        string `json:"type"`
	Content     string `json:"content"`
	ClientMsgID string `json:"clientMsgId"`
}

type editPayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type deletePayload struct {
	ID     string `json:"id"`
	RoomID string `json:"roomId"`
}

func badPayload(err error) error {
	return errs.ErrBadRequest.WrapMsg("malformed payload", "cause", err.Error())
}

// observe 记一次变更结果
func observe(cc *chat.ChatContext, kind service.MutationKind, err error) {
	result := "ok"
	if err != nil {
		result = errs.From(err).Reason
	}
	cc.S.Metrics().Mutation(string(kind), result)
}

// ===== send-message =====

type SendHandler struct{}

func NewSendHandler() chat.Handler { return &SendHandler{} }

func (h *SendHandler) Event() string { return chat.EventSendMessage }

func (h *SendHandler) Handle(cc *chat.ChatContext, c *chat.WsConn, data any) (*chat.Ack, error) {
	p, err := decode.Decode[sendPayload](data)
	if err != nil {
		return nil, badPayload(err)
	}
	typ, err := model.ParseMessageType(p.Type)
	if err != nil {
		return nil, err
	}
	msg, err := cc.S.Mutations().Create(cc.Ctx, service.CreateRequest{
		Requester:   c.Requester(),
		RoomID:      p.RoomID,
		DoctorID:    p.DoctorID,
		Type:        typ,
		Content:     p.Content,
		ClientMsgID: p.ClientMsgID,
	})
	observe(cc, service.MutationCreated, err)
	if err != nil {
		return nil, err
	}
	return &chat.Ack{Success: true, Message: msg, ID: msg.ID, ClientMsgID: msg.ClientMsgID}, nil
}

// ===== edit-message =====

type EditHandler struct{}

func NewEditHandler() chat.Handler { return &EditHandler{} }

func (h *EditHandler) Event() string { return chat.EventEditMessage }

func (h *EditHandler) Handle(cc *chat.ChatContext, c *chat.WsConn, data any) (*chat.Ack, error) {
	p, err := decode.Decode[editPayload](data)
	if err != nil {
		return nil, badPayload(err)
	}
	msg, err := cc.S.Mutations().Edit(cc.Ctx, service.EditRequest{
		Requester: c.Requester(),
		MessageID: p.ID,
		Content:   p.Content,
	})
	observe(cc, service.MutationEdited, err)
	if err != nil {
		return nil, err
	}
	return &chat.Ack{Success: true, Message: msg, ID: msg.ID}, nil
}

// ===== delete-message =====

type DeleteHandler struct{}

func NewDeleteHandler() chat.Handler { return &DeleteHandler{} }

func (h *DeleteHandler) Event() string { return chat.EventDeleteMessage }

func (h *DeleteHandler) Handle(cc *chat.ChatContext, c *chat.WsConn, data any) (*chat.Ack, error) {
	p, err := decode.Decode[deletePayload](data)
	if err != nil {
		return nil, badPayload(err)
	}
	id, err := cc.S.Mutations().Delete(cc.Ctx, service.DeleteRequest{
		Requester: c.Requester(),
		MessageID: p.ID,
		RoomID:    p.RoomID,
	})
	observe(cc, service.MutationDeleted, err)
	if err != nil {
		return nil, err
	}
	return &chat.Ack{Success: true, ID: id}, nil
}
