package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"consultchat/module/consult/model"
	"consultchat/tools/errs"
)

// MemoryStore 进程内实现：开发环境和测试用
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]*model.Room
	messages map[string]*model.Message
	byRoom   map[string][]string // roomID -> message ids，按插入顺序
	doctors  map[int64]*model.Doctor
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]*model.Room),
		messages: make(map[string]*model.Message),
		byRoom:   make(map[string][]string),
		doctors:  make(map[int64]*model.Doctor),
		now:      Now,
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close(context.Context) error   { return nil }

// ===== rooms =====

func (s *MemoryStore) CreateRoom(_ context.Context, r *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[r.ID]; ok {
		return errs.ErrInvalidState.WrapMsg("room exists", "id", r.ID)
	}
	cp := *r
	s.rooms[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRoom(_ context.Context, id string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("room", "id", id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRooms(_ context.Context, f RoomFilter) ([]*model.Room, error) {
	s.mu.RLock()
	out := make([]*model.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if f.DoctorID != nil && r.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	// 新的在前
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CompleteRoom(_ context.Context, id string) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("room", "id", id)
	}
	if r.Status != model.RoomCompleted {
		now := s.now()
		r.Status = model.RoomCompleted
		r.CompletedAt = &now
	}
	cp := *r
	return &cp, nil
}

// ===== messages =====

func (s *MemoryStore) CreateMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return errs.ErrInvalidState.WrapMsg("message exists", "id", m.ID)
	}
	s.messages[m.ID] = m.Clone()
	s.byRoom[m.RoomID] = append(s.byRoom[m.RoomID], m.ID)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", id)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) FindByClientMsgID(_ context.Context, roomID, clientMsgID string) (*model.Message, error) {
	if clientMsgID == "" {
		return nil, errs.ErrNotFound.WrapMsg("message", "clientMsgId", "")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byRoom[roomID] {
		if m := s.messages[id]; m.ClientMsgID == clientMsgID {
			return m.Clone(), nil
		}
	}
	return nil, errs.ErrNotFound.WrapMsg("message", "clientMsgId", clientMsgID)
}

func (s *MemoryStore) UpdateContent(_ context.Context, id, content string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || !m.IsActive() {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", id)
	}
	m.Content = content
	m.UpdatedAt = s.now()
	return m.Clone(), nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || !m.IsActive() {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", id)
	}
	now := s.now()
	m.Status = model.MessageDeleted
	m.DeletedAt = &now
	m.UpdatedAt = now
	return m.Clone(), nil
}

func (s *MemoryStore) ListActive(_ context.Context, roomID string) ([]*model.Message, error) {
	s.mu.RLock()
	ids := s.byRoom[roomID]
	out := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		if m := s.messages[id]; m.IsActive() {
			out = append(out, m.Clone())
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// ===== doctors =====

func (s *MemoryStore) PutDoctor(_ context.Context, d *model.Doctor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.doctors[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDoctor(_ context.Context, id int64) (*model.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doctors[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("doctor", "id", id)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) DoctorByUserID(_ context.Context, userID string) (*model.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.doctors {
		if d.UserID == userID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound.WrapMsg("doctor", "userId", userID)
}
