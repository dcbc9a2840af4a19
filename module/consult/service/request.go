package service

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"consultchat/module/consult/model"
	"consultchat/tools/errs"
)

const (
	MaxTextRunes    = 4000
	MaxClientMsgID  = 128
	MaxPatientRunes = 200
)

// CreateRequest 发送消息
type CreateRequest struct {
	Requester   model.Requester
	RoomID      string
	DoctorID    *int64 // 草稿里自带的 doctorId，只做一致性校验
	Type        model.MessageType
	Content     string
	ClientMsgID string
}

func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.RoomID) == "" {
		return errs.ErrBadRequest.WrapMsg("roomId required")
	}
	if len(r.ClientMsgID) > MaxClientMsgID {
		return errs.ErrBadRequest.WrapMsg("clientMsgId too long")
	}
	return validateContent(r.Type, r.Content)
}

// EditRequest 编辑文本消息
type EditRequest struct {
	Requester model.Requester
	MessageID string
	Content   string
}

func (r *EditRequest) Validate() error {
	if strings.TrimSpace(r.MessageID) == "" {
		return errs.ErrBadRequest.WrapMsg("id required")
	}
	return validateContent(model.MessageText, r.Content)
}

// DeleteRequest 软删除；RoomID 可选，给了就必须和消息所在房间一致
type DeleteRequest struct {
	Requester model.Requester
	MessageID string
	RoomID    string
}

func (r *DeleteRequest) Validate() error {
	if strings.TrimSpace(r.MessageID) == "" {
		return errs.ErrBadRequest.WrapMsg("id required")
	}
	return nil
}

// CreateRoomRequest 管理员开房
type CreateRoomRequest struct {
	PatientName string `json:"patientName" binding:"required"`
	DoctorID    int64  `json:"doctorId" binding:"required"`
}

func (r *CreateRoomRequest) Validate() error {
	name := strings.TrimSpace(r.PatientName)
	if name == "" || utf8.RuneCountInString(name) > MaxPatientRunes {
		return errs.ErrBadRequest.WrapMsg("patientName required")
	}
	if r.DoctorID <= 0 {
		return errs.ErrBadRequest.WrapMsg("doctorId required")
	}
	return nil
}

func validateContent(t model.MessageType, content string) error {
	switch t {
	case model.MessageText:
		if strings.TrimSpace(content) == "" {
			return errs.ErrBadRequest.WrapMsg("content required")
		}
		if utf8.RuneCountInString(content) > MaxTextRunes {
			return errs.ErrBadRequest.WrapMsg("content too long", "max", MaxTextRunes)
		}
	case model.MessageImage, model.MessageFile, model.MessageAudio:
		u, err := url.Parse(strings.TrimSpace(content))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return errs.ErrBadRequest.WrapMsg("content must be a blob url", "type", string(t))
		}
	default:
		return errs.ErrBadRequest.WrapMsg("unknown message type", "type", string(t))
	}
	return nil
}
