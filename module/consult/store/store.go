// Package store is the persistence collaborator of the consultation chat.
// Every implementation returns errs.ErrNotFound for missing rows and wraps
// driver failures as errs.ErrTransientIO.
package store

import (
	"context"
	"time"

	"consultchat/module/consult/model"
)

// Now 时间戳统一截到毫秒，和 Mongo 的存储精度一致
func Now() time.Time { return time.Now().Truncate(time.Millisecond) }

type RoomStore interface {
	CreateRoom(ctx context.Context, r *model.Room) error
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	ListRooms(ctx context.Context, f RoomFilter) ([]*model.Room, error)
	// CompleteRoom moves Active -> Completed; Completed stays Completed.
	CompleteRoom(ctx context.Context, id string) (*model.Room, error)
}

type RoomFilter struct {
	DoctorID *int64
	Status   model.RoomStatus
	Limit    int
}

type MessageStore interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	FindByClientMsgID(ctx context.Context, roomID, clientMsgID string) (*model.Message, error)
	// UpdateContent only touches Active messages, otherwise ErrNotFound.
	UpdateContent(ctx context.Context, id, content string) (*model.Message, error)
	// SoftDelete only touches Active messages, otherwise ErrNotFound.
	SoftDelete(ctx context.Context, id string) (*model.Message, error)
	// ListActive returns Active messages ordered by createdAt, seq.
	ListActive(ctx context.Context, roomID string) ([]*model.Message, error)
}

type DoctorStore interface {
	PutDoctor(ctx context.Context, d *model.Doctor) error
	GetDoctor(ctx context.Context, id int64) (*model.Doctor, error)
	DoctorByUserID(ctx context.Context, userID string) (*model.Doctor, error)
}

// Store 聚合三类仓储
type Store interface {
	RoomStore
	MessageStore
	DoctorStore
	// Migrate 建表 / 建索引
	Migrate(ctx context.Context) error
	Close(ctx context.Context) error
}
