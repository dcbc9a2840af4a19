package service

import (
	"context"
	"sync"
	"time"

	"consultchat/module/consult/model"
	"consultchat/module/consult/store"
	"consultchat/tools/errs"

	"github.com/google/uuid"
)

// RoomHook 房间状态变化后调用（仍持有房间锁）
type RoomHook func(ctx context.Context, r *model.Room)

// RoomService owns the room lifecycle. It shares the mutation sequencer so
// no create can interleave with the Active -> Completed transition.
type RoomService struct {
	rooms   store.RoomStore
	doctors store.DoctorStore
	seq     *KeyLock

	hookMu sync.RWMutex
	hooks  []RoomHook

	now   func() time.Time
	newID func() string
}

func NewRoomService(st store.Store, seq *KeyLock) *RoomService {
	if seq == nil {
		seq = NewKeyLock()
	}
	return &RoomService{rooms: st, doctors: st, seq: seq, now: time.Now, newID: uuid.NewString}
}

func (s *RoomService) OnStatusChange(h RoomHook) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hookMu.Unlock()
}

func (s *RoomService) Create(ctx context.Context, req CreateRoomRequest) (*model.Room, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	d, err := s.doctors.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	r := &model.Room{
		ID:          s.newID(),
		DoctorID:    d.ID,
		PatientName: req.PatientName,
		Status:      model.RoomActive,
		CreatedAt:   s.now(),
	}
	if err := s.rooms.CreateRoom(ctx, r); err != nil {
		return nil, errs.Wrap(err, "create room")
	}
	r.Doctor = d.Card()
	return r, nil
}

// Get 公开接口：持有房间链接即可查看
func (s *RoomService) Get(ctx context.Context, id string) (*model.Room, error) {
	r, err := s.rooms.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if d, err := s.doctors.GetDoctor(ctx, r.DoctorID); err == nil {
		r.Doctor = d.Card()
	}
	return r, nil
}

func (s *RoomService) List(ctx context.Context, f store.RoomFilter) ([]*model.Room, error) {
	return s.rooms.ListRooms(ctx, f)
}

// ListMine lists the rooms of the caller's doctor profile.
func (s *RoomService) ListMine(ctx context.Context, id model.Identity) ([]*model.Room, error) {
	if id.DoctorID == nil {
		return nil, errs.ErrForbidden.WrapMsg("no doctor profile")
	}
	return s.rooms.ListRooms(ctx, store.RoomFilter{DoctorID: id.DoctorID})
}

// End 结束会诊：房间医生或管理员。已结束再调用直接返回。
func (s *RoomService) End(ctx context.Context, roomID string, by model.Identity) (*model.Room, error) {
	unlock := s.seq.Lock(roomID)
	defer unlock()

	r, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !by.IsAdmin() && !by.HasDoctor(r.DoctorID) {
		return nil, errs.ErrForbidden.WrapMsg("not the room's doctor", "roomId", roomID)
	}
	if r.Status == model.RoomCompleted {
		return r, nil
	}
	r, err = s.rooms.CompleteRoom(ctx, roomID)
	if err != nil {
		return nil, errs.Wrap(err, "end room")
	}

	s.hookMu.RLock()
	hooks := s.hooks
	s.hookMu.RUnlock()
	for _, h := range hooks {
		h(ctx, r)
	}
	return r, nil
}
