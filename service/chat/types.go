package chat

import (
	"context"

	"consultchat/module/consult/model"
	"consultchat/module/consult/service"
	"consultchat/tools/security"
)

// Handler 处理一种入站事件。返回的 Ack 只在客户端带了 ackId 时回写。
type Handler interface {
	Event() string
	Handle(cc *ChatContext, c *WsConn, data any) (*Ack, error)
}

type ChatContext struct {
	Ctx context.Context
	S   *Server
}

// ===== 外部协作方 =====

type TokenVerifier interface {
	Verify(token string) (*security.Claims, error)
}

type DoctorDirectory interface {
	DoctorByUserID(ctx context.Context, userID string) (*model.Doctor, error)
}

// Mutations is the slice of the mutation service the gateway drives.
type Mutations interface {
	Create(ctx context.Context, req service.CreateRequest) (*model.Message, error)
	Edit(ctx context.Context, req service.EditRequest) (*model.Message, error)
	Delete(ctx context.Context, req service.DeleteRequest) (string, error)
	History(ctx context.Context, roomID string) ([]*model.Message, error)
}

// PresenceMirror receives identity transitions. Implementations must not block.
type PresenceMirror interface {
	Online(key model.IdentityKey)
	Offline(key model.IdentityKey)
}

// Metrics 指标埋点；nil 时用空实现
type Metrics interface {
	ConnOpened()
	ConnClosed()
	OnlineIdentities(n int)
	RoomsActive(n int)
	Event(name string)
	Mutation(kind, result string)
	BroadcastFrames(n int)
	SlowConsumer()
}

type nopMetrics struct{}

func (nopMetrics) ConnOpened()             {}
func (nopMetrics) ConnClosed()             {}
func (nopMetrics) OnlineIdentities(int)    {}
func (nopMetrics) RoomsActive(int)         {}
func (nopMetrics) Event(string)            {}
func (nopMetrics) Mutation(string, string) {}
func (nopMetrics) BroadcastFrames(int)     {}
func (nopMetrics) SlowConsumer()           {}
