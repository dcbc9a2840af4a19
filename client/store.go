package client

import (
	"strings"
	"sync"
	"time"

	"consultchat/module/consult/model"

	"github.com/google/uuid"
)

const localPrefix = "local-"

func newLocalID() string { return localPrefix + uuid.NewString() }

func isLocalID(id string) bool { return strings.HasPrefix(id, localPrefix) }

type OpKind string

const (
	OpCreate OpKind = "create"
	OpEdit   OpKind = "edit"
	OpDelete OpKind = "delete"
)

// Draft 用户输入的新消息
type Draft struct {
	DoctorID *int64
	Type     model.MessageType
	Content  string
}

// PendingOp is a local mutation the server has not acknowledged yet.
type PendingOp struct {
	LocalID    string // create 时即临时消息 id
	Kind       OpKind
	MessageID  string // edit/delete 的目标；可能仍是临时 id
	Draft      Draft
	Content    string
	EnqueuedAt time.Time
	LastErr    error
	Rejected   bool // 服务端明确拒绝：重连不再重放，等 Retry 或 Discard

	sentGen   uint64 // 本连接代次内已发送过
	cancelled bool   // create 在途时被本地删除
	prev      string // edit 之前的内容
	removed   *Entry // delete 时移出视图的条目
}

// Entry 本地可见的一条消息
type Entry struct {
	model.Message
	LocalID string
	Pending bool
}

// Store holds the optimistic view of one room: confirmed messages, local
// drafts and the queue of unacknowledged operations.
type Store struct {
	mu       sync.Mutex
	roomID   string
	entries  []*Entry
	ops      []*PendingOp
	hidden   map[string]bool // 本地已删、等待服务端确认的 id
	fallback bool
	now      func() time.Time
}

func NewStore(roomID string, contentFallback bool) *Store {
	return &Store{roomID: roomID, hidden: make(map[string]bool), fallback: contentFallback, now: time.Now}
}

// ===== 快照 =====

func (s *Store) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		out = append(out, cp)
	}
	return out
}

func (s *Store) Pending() []PendingOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingOp, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, *op)
	}
	return out
}

func (s *Store) Entry(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLocked(id)
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// ===== 本地变更 =====

func (s *Store) addCreate(d Draft) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Type == "" {
		d.Type = model.MessageText
	}
	id := newLocalID()
	now := s.now()
	s.entries = append(s.entries, &Entry{
		Message: model.Message{
			ID: id, RoomID: s.roomID, AuthorDoctorID: d.DoctorID, Type: d.Type, Content: d.Content,
			ClientMsgID: id, Status: model.MessageActive, CreatedAt: now, UpdatedAt: now,
		},
		LocalID: id,
		Pending: true,
	})
	s.ops = append(s.ops, &PendingOp{LocalID: id, Kind: OpCreate, Draft: d, EnqueuedAt: now})
	return id
}

// addEdit 返回操作 id；目标还没发出去时直接改草稿，返回空
func (s *Store) addEdit(id, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLocked(id)
	if e == nil {
		return "", ErrUnknownMessage
	}
	prev := e.Content
	e.Content = content
	e.Pending = true
	if create := s.createOpLocked(e.LocalID); create != nil && create.sentGen == 0 {
		create.Draft.Content = content
		return "", nil
	}
	op := &PendingOp{LocalID: newLocalID(), Kind: OpEdit, MessageID: e.ID, Content: content, EnqueuedAt: s.now(), prev: prev}
	s.ops = append(s.ops, op)
	return op.LocalID, nil
}

func (s *Store) addDelete(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLocked(id)
	if e == nil {
		return "", ErrUnknownMessage
	}
	s.removeEntryLocked(e)
	if create := s.createOpLocked(e.LocalID); create != nil {
		s.dropOpsForLocked(e.ID, OpEdit)
		if create.sentGen == 0 {
			s.removeOpLocked(create)
			return "", nil
		}
		// 已在途：等 ack 拿到服务端 id 再删
		create.cancelled = true
		return "", nil
	}
	s.dropOpsForLocked(e.ID, OpEdit)
	s.hidden[e.ID] = true
	op := &PendingOp{LocalID: newLocalID(), Kind: OpDelete, MessageID: e.ID, EnqueuedAt: s.now(), removed: e}
	s.ops = append(s.ops, op)
	return op.LocalID, nil
}

// claim picks the oldest operation not yet sent on connection gen whose
// target is known to the server, and marks it sent. Rejected operations are
// never picked.
func (s *Store) claim(gen uint64) (PendingOp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.ops {
		if op.sentGen == gen || op.Rejected {
			continue
		}
		if op.Kind != OpCreate && isLocalID(op.MessageID) {
			continue
		}
		op.sentGen = gen
		return *op, true
	}
	return PendingOp{}, false
}

func (s *Store) fail(localID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.ops {
		if op.LocalID == localID {
			op.LastErr = err
		}
	}
}

// reject 记录服务端的拒绝，操作停在队列里直到 retry 或 discard
func (s *Store) reject(localID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.opByIDLocked(localID)
	if op == nil {
		return
	}
	if op.cancelled {
		// 本地已删，没必要留着
		s.removeOpLocked(op)
		return
	}
	op.LastErr = err
	op.Rejected = true
}

// retry re-arms a rejected operation and returns the id of the entry it
// affects.
func (s *Store) retry(localID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.opByIDLocked(localID)
	if op == nil {
		return "", ErrUnknownMessage
	}
	if op.Rejected {
		op.Rejected = false
		op.LastErr = nil
		op.sentGen = 0
	}
	if op.Kind == OpCreate {
		return op.LocalID, nil
	}
	return op.MessageID, nil
}

// discard drops a pending operation and undoes its optimistic effect.
func (s *Store) discard(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.opByIDLocked(localID)
	if op == nil {
		return ErrUnknownMessage
	}
	s.removeOpLocked(op)
	switch op.Kind {
	case OpCreate:
		if op.cancelled {
			return nil
		}
		if e := s.findLocked(op.LocalID); e != nil {
			s.removeEntryLocked(e)
		}
		s.dropOpsForLocked(op.LocalID, OpEdit)
		s.dropOpsForLocked(op.LocalID, OpDelete)
	case OpEdit:
		e := s.findLocked(op.MessageID)
		if e == nil {
			return nil
		}
		// 还有别的编辑排队时保留最新的本地内容
		if s.opForMessageLocked(op.MessageID, OpEdit) == nil {
			e.Content = op.prev
			e.Pending = isLocalID(e.ID)
		}
	case OpDelete:
		delete(s.hidden, op.MessageID)
		if op.removed != nil && s.findLocked(op.MessageID) == nil {
			op.removed.Pending = isLocalID(op.removed.ID)
			s.insertEntryLocked(op.removed)
		}
	}
	return nil
}

func (s *Store) lastErr(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.ops {
		if op.LocalID == localID {
			return op.LastErr
		}
	}
	return nil
}

// ===== ack =====

// ackCreate confirms a create. A message removed locally while its create
// was in flight gets a delete queued against the server id.
func (s *Store) ackCreate(localID string, msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmLocked(localID, msg)
}

func (s *Store) ackEdit(opID string, msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.opByIDLocked(opID)
	if op == nil {
		return
	}
	s.removeOpLocked(op)
	if msg == nil {
		return
	}
	if e := s.findLocked(msg.ID); e != nil && s.opForMessageLocked(msg.ID, OpEdit) == nil {
		e.Content = msg.Content
		e.Type = msg.Type
		e.UpdatedAt = msg.UpdatedAt
		e.Pending = false
	}
}

func (s *Store) ackDelete(opID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.opByIDLocked(opID)
	if op == nil {
		return
	}
	s.removeOpLocked(op)
	delete(s.hidden, op.MessageID)
}

// ===== 服务端推送 =====

func (s *Store) onNew(msg *model.Message, clientMsgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clientMsgID == "" {
		clientMsgID = msg.ClientMsgID
	}
	if clientMsgID != "" && s.findLocked(clientMsgID) != nil {
		s.confirmLocked(clientMsgID, msg)
		return
	}
	if create := s.createOpLocked(clientMsgID); create != nil && create.cancelled {
		s.confirmLocked(clientMsgID, msg)
		return
	}
	if e := s.findLocked(msg.ID); e != nil {
		return
	}
	if s.hidden[msg.ID] {
		return
	}
	if s.fallback {
		if e := s.contentMatchLocked(msg); e != nil {
			s.confirmLocked(e.LocalID, msg)
			return
		}
	}
	s.entries = append(s.entries, &Entry{Message: *msg.Clone()})
}

func (s *Store) onEdited(msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLocked(msg.ID)
	if e == nil || s.opForMessageLocked(msg.ID, OpEdit) != nil {
		return // 本地编辑优先，等自己的 ack
	}
	e.Content = msg.Content
	e.Type = msg.Type
	e.UpdatedAt = msg.UpdatedAt
}

func (s *Store) onDeleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.findLocked(id); e != nil {
		s.removeEntryLocked(e)
	}
	s.dropOpsForLocked(id, OpEdit)
	s.dropOpsForLocked(id, OpDelete)
	delete(s.hidden, id)
}

// onInitial replaces the confirmed view with server history and lays the
// still-pending local state over it.
func (s *Store) onInitial(msgs []*model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var drafts []*Entry
	edits := make(map[string]string)
	locals := make(map[string]string) // 已确认消息 id -> 临时 id
	for _, e := range s.entries {
		switch {
		case e.LocalID != "" && isLocalID(e.ID):
			drafts = append(drafts, e)
		case e.LocalID != "":
			locals[e.ID] = e.LocalID
		}
	}
	for _, op := range s.ops {
		if op.Kind == OpEdit {
			edits[op.MessageID] = op.Content
		}
	}

	s.entries = s.entries[:0]
	for _, m := range msgs {
		if s.hidden[m.ID] {
			continue
		}
		e := &Entry{Message: *m.Clone(), LocalID: locals[m.ID]}
		if c, ok := edits[m.ID]; ok {
			e.Content = c
			e.Pending = true
		}
		s.entries = append(s.entries, e)
	}
	for _, d := range drafts {
		s.entries = append(s.entries, d)
	}
	// 断线前已落库但 ack 丢失的草稿
	for _, m := range msgs {
		if m.ClientMsgID == "" {
			continue
		}
		if create := s.createOpLocked(m.ClientMsgID); create != nil {
			s.confirmLocked(m.ClientMsgID, m)
		}
	}
}

// ===== 内部 =====

// confirmLocked swaps the draft localID for the server message, drops the
// create op and retargets follow-up ops.
func (s *Store) confirmLocked(localID string, msg *model.Message) {
	create := s.createOpLocked(localID)
	cancelled := create != nil && create.cancelled
	if create != nil {
		s.removeOpLocked(create)
	}
	for _, op := range s.ops {
		if op.MessageID == localID {
			op.MessageID = msg.ID
		}
	}

	draft := s.findLocked(localID)
	if cancelled {
		if draft != nil {
			s.removeEntryLocked(draft)
		}
		if e := s.findLocked(msg.ID); e != nil {
			s.removeEntryLocked(e)
		}
		if !s.hidden[msg.ID] {
			s.hidden[msg.ID] = true
			s.ops = append(s.ops, &PendingOp{LocalID: newLocalID(), Kind: OpDelete, MessageID: msg.ID, EnqueuedAt: s.now()})
		}
		return
	}
	if existing := s.findLocked(msg.ID); existing != nil && existing != draft {
		if draft != nil {
			s.removeEntryLocked(draft)
		}
		existing.LocalID = localID
		if op := s.opForMessageLocked(msg.ID, OpEdit); op != nil {
			existing.Content = op.Content
			existing.Pending = true
		}
		return
	}
	if draft == nil {
		return
	}
	content := draft.Content
	edited := s.opForMessageLocked(msg.ID, OpEdit) != nil
	draft.Message = *msg.Clone()
	draft.LocalID = localID
	draft.Pending = edited
	if edited {
		draft.Content = content
	}
}

func (s *Store) contentMatchLocked(msg *model.Message) *Entry {
	for _, e := range s.entries {
		if isLocalID(e.ID) && e.RoomID == msg.RoomID && e.Type == msg.Type && e.Content == msg.Content {
			return e
		}
	}
	return nil
}

func (s *Store) findLocked(id string) *Entry {
	if id == "" {
		return nil
	}
	for _, e := range s.entries {
		if e.ID == id || (e.LocalID == id && isLocalID(id)) {
			return e
		}
	}
	return nil
}

// insertEntryLocked 按创建时间放回
func (s *Store) insertEntryLocked(e *Entry) {
	i := len(s.entries)
	for i > 0 && s.entries[i-1].CreatedAt.After(e.CreatedAt) {
		i--
	}
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

func (s *Store) removeEntryLocked(target *Entry) {
	for i, e := range s.entries {
		if e == target {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// createOpLocked create 操作按临时 id 查
func (s *Store) createOpLocked(localID string) *PendingOp {
	if localID == "" {
		return nil
	}
	for _, op := range s.ops {
		if op.Kind == OpCreate && op.LocalID == localID {
			return op
		}
	}
	return nil
}

// opForMessageLocked edit/delete 按目标消息 id 查
func (s *Store) opForMessageLocked(messageID string, kind OpKind) *PendingOp {
	for _, op := range s.ops {
		if op.Kind == kind && op.MessageID == messageID {
			return op
		}
	}
	return nil
}

func (s *Store) opByIDLocked(opID string) *PendingOp {
	for _, op := range s.ops {
		if op.LocalID == opID {
			return op
		}
	}
	return nil
}

func (s *Store) removeOpLocked(target *PendingOp) {
	for i, op := range s.ops {
		if op == target {
			s.ops = append(s.ops[:i], s.ops[i+1:]...)
			return
		}
	}
}

func (s *Store) dropOpsForLocked(messageID string, kind OpKind) {
	kept := s.ops[:0]
	for _, op := range s.ops {
		if op.Kind == kind && op.MessageID == messageID {
			continue
		}
		kept = append(kept, op)
	}
	s.ops = kept
}
