package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"consultchat/logger"
	"consultchat/module/consult/model"
	"consultchat/module/consult/store"
	"consultchat/tools/errs"
	"consultchat/tools/ids"
	"consultchat/tools/safe"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MutationKind string

const (
	MutationCreated MutationKind = "created"
	MutationEdited  MutationKind = "edited"
	MutationDeleted MutationKind = "deleted"
)

// Mutation is a committed change, handed to commit hooks in completion order
// per room.
type Mutation struct {
	Kind        MutationKind
	RoomID      string
	MessageID   string
	Message     *model.Message
	Origin      string // 发起连接 id
	ClientMsgID string
	At          time.Time
}

// CommitHook runs under the room's sequencer after persistence succeeded.
// It must not block on I/O.
type CommitHook func(ctx context.Context, m Mutation)

// Notifier 推送能力（外部协作方）
type Notifier interface {
	Notify(ctx context.Context, n PushNotice) error
}

type PushNotice struct {
	DoctorID    int64  `json:"doctorId"`
	Address     string `json:"address"`
	RoomID      string `json:"roomId"`
	MessageID   string `json:"messageId"`
	PatientName string `json:"patientName"`
	Type        string `json:"type"`
	Preview     string `json:"preview"`
}

const previewRunes = 80

// MutationService is the only writer of message state.
type MutationService struct {
	rooms    store.RoomStore
	messages store.MessageStore
	doctors  store.DoctorStore

	seq      *KeyLock
	notifier Notifier

	hookMu sync.RWMutex
	hooks  []CommitHook

	now           func() time.Time
	newID         func() string
	nextSeq       func() int64
	notifyTimeout time.Duration
	log           *zap.Logger
}

type Option func(*MutationService)

func WithNotifier(n Notifier) Option { return func(s *MutationService) { s.notifier = n } }

func WithClock(now func() time.Time) Option { return func(s *MutationService) { s.now = now } }

func WithIDs(newID func() string, nextSeq func() int64) Option {
	return func(s *MutationService) {
		if newID != nil {
			s.newID = newID
		}
		if nextSeq != nil {
			s.nextSeq = nextSeq
		}
	}
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *MutationService) { s.notifyTimeout = d }
}

func NewMutationService(st store.Store, opts ...Option) *MutationService {
	safe.MustNotNil(st, "store")
	s := &MutationService{
		rooms:         st,
		messages:      st,
		doctors:       st,
		seq:           NewKeyLock(),
		now:           time.Now,
		newID:         uuid.NewString,
		nextSeq:       ids.Generate,
		notifyTimeout: 10 * time.Second,
		log:           logger.Named("mutation"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sequencer 房间级串行器，RoomService 结束会诊时共用
func (s *MutationService) Sequencer() *KeyLock { return s.seq }

// OnCommit registers a hook. Call during wiring, before traffic.
func (s *MutationService) OnCommit(h CommitHook) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hookMu.Unlock()
}

func (s *MutationService) commit(ctx context.Context, m Mutation) {
	s.hookMu.RLock()
	hooks := s.hooks
	s.hookMu.RUnlock()
	for _, h := range hooks {
		h(ctx, m)
	}
}

// ===== create =====

func (s *MutationService) Create(ctx context.Context, req CreateRequest) (*model.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	unlock := s.seq.Lock(req.RoomID)
	defer unlock()

	room, err := s.rooms.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive() {
		return nil, errs.ErrInvalidState.WrapMsg("room is completed", "roomId", room.ID)
	}
	author, err := authorFor(req, room)
	if err != nil {
		return nil, err
	}

	// 断线重放：同一 clientMsgId 只落库一次
	if req.ClientMsgID != "" {
		existing, err := s.messages.FindByClientMsgID(ctx, room.ID, req.ClientMsgID)
		switch {
		case err == nil:
			s.decorate(ctx, existing)
			return existing, nil
		case !errors.Is(err, errs.ErrNotFound):
			return nil, err
		}
	}

	// 截到毫秒：ack、广播和之后的历史回放要一致
	now := s.now().Truncate(time.Millisecond)
	msg := &model.Message{
		ID:             s.newID(),
		RoomID:         room.ID,
		AuthorDoctorID: author,
		Type:           req.Type,
		Content:        req.Content,
		ClientMsgID:    req.ClientMsgID,
		Seq:            s.nextSeq(),
		Status:         model.MessageActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, errs.Wrap(err, "create message")
	}
	s.decorate(ctx, msg)

	s.commit(ctx, Mutation{
		Kind: MutationCreated, RoomID: room.ID, MessageID: msg.ID, Message: msg.Clone(),
		Origin: req.Requester.ConnID, ClientMsgID: msg.ClientMsgID, At: now,
	})
	if msg.IsGuestAuthored() {
		s.notifyDoctor(room, msg)
	}
	return msg, nil
}

// authorFor 决定作者：访客 -> nil，医生 -> 自己的 doctorId
func authorFor(req CreateRequest, room *model.Room) (*int64, error) {
	id := req.Requester.Identity
	if id.IsGuest() {
		if !req.Requester.IsRoomGuest(room.ID) {
			return nil, errs.ErrForbidden.WrapMsg("guest has not joined room", "roomId", room.ID)
		}
		if req.DoctorID != nil {
			return nil, errs.ErrForbidden.WrapMsg("guest cannot post as doctor")
		}
		return nil, nil
	}
	if id.DoctorID == nil {
		return nil, errs.ErrForbidden.WrapMsg("no doctor profile", "subject", id.SubjectID)
	}
	if *id.DoctorID != room.DoctorID {
		return nil, errs.ErrForbidden.WrapMsg("not the room's doctor", "roomId", room.ID)
	}
	if req.DoctorID != nil && *req.DoctorID != *id.DoctorID {
		return nil, errs.ErrForbidden.WrapMsg("doctorId mismatch")
	}
	author := *id.DoctorID
	return &author, nil
}

// ===== edit / delete =====

// CanMutate: guest-authored messages belong to the room's guest; doctor
// messages belong to that doctor only. Admins get no override.
func CanMutate(r model.Requester, m *model.Message) bool {
	if m.AuthorDoctorID == nil {
		return r.IsRoomGuest(m.RoomID)
	}
	return r.Identity.HasDoctor(*m.AuthorDoctorID)
}

func (s *MutationService) Edit(ctx context.Context, req EditRequest) (*model.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cur, unlock, err := s.lockMessage(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !CanMutate(req.Requester, cur) {
		return nil, errs.ErrForbidden.WrapMsg("not the author", "id", cur.ID)
	}
	if cur.Type != model.MessageText {
		return nil, errs.ErrInvalidOperation.WrapMsg("only text messages are editable", "type", string(cur.Type))
	}
	updated, err := s.messages.UpdateContent(ctx, cur.ID, req.Content)
	if err != nil {
		return nil, errs.Wrap(err, "edit message")
	}
	s.decorate(ctx, updated)
	s.commit(ctx, Mutation{
		Kind: MutationEdited, RoomID: updated.RoomID, MessageID: updated.ID, Message: updated.Clone(),
		Origin: req.Requester.ConnID, At: updated.UpdatedAt,
	})
	return updated, nil
}

func (s *MutationService) Delete(ctx context.Context, req DeleteRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	cur, unlock, err := s.lockMessage(ctx, req.MessageID)
	if err != nil {
		return "", err
	}
	defer unlock()

	if req.RoomID != "" && req.RoomID != cur.RoomID {
		return "", errs.ErrNotFound.WrapMsg("message not in room", "id", cur.ID, "roomId", req.RoomID)
	}
	if !CanMutate(req.Requester, cur) {
		return "", errs.ErrForbidden.WrapMsg("not the author", "id", cur.ID)
	}
	deleted, err := s.messages.SoftDelete(ctx, cur.ID)
	if err != nil {
		return "", errs.Wrap(err, "delete message")
	}
	s.commit(ctx, Mutation{
		Kind: MutationDeleted, RoomID: deleted.RoomID, MessageID: deleted.ID, Message: deleted.Clone(),
		Origin: req.Requester.ConnID, At: deleted.UpdatedAt,
	})
	return deleted.ID, nil
}

// lockMessage 先找到消息所在房间，拿房间锁后重读最新已提交状态
func (s *MutationService) lockMessage(ctx context.Context, id string) (*model.Message, func(), error) {
	first, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.seq.Lock(first.RoomID)
	cur, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if !cur.IsActive() {
		unlock()
		return nil, nil, errs.ErrNotFound.WrapMsg("message deleted", "id", id)
	}
	return cur, unlock, nil
}

// ===== history =====

// History returns the room's Active messages, oldest first, with author
// display data resolved.
func (s *MutationService) History(ctx context.Context, roomID string) ([]*model.Message, error) {
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	list, err := s.messages.ListActive(ctx, roomID)
	if err != nil {
		return nil, errs.Wrap(err, "history")
	}
	cards := make(map[int64]*model.DoctorCard)
	for _, m := range list {
		if m.AuthorDoctorID == nil {
			continue
		}
		c, ok := cards[*m.AuthorDoctorID]
		if !ok {
			c = s.doctorCard(ctx, *m.AuthorDoctorID)
			cards[*m.AuthorDoctorID] = c
		}
		m.Doctor = c
	}
	return list, nil
}

func (s *MutationService) decorate(ctx context.Context, m *model.Message) {
	if m.AuthorDoctorID != nil {
		m.Doctor = s.doctorCard(ctx, *m.AuthorDoctorID)
	}
}

func (s *MutationService) doctorCard(ctx context.Context, id int64) *model.DoctorCard {
	d, err := s.doctors.GetDoctor(ctx, id)
	if err != nil {
		// 展示信息缺失不影响主流程
		s.log.Debug("doctor card unavailable", zap.Int64("doctorId", id), zap.Error(err))
		return nil
	}
	return d.Card()
}

// ===== push =====

func (s *MutationService) notifyDoctor(room *model.Room, msg *model.Message) {
	if s.notifier == nil {
		return
	}
	notice := PushNotice{
		DoctorID:    room.DoctorID,
		RoomID:      room.ID,
		MessageID:   msg.ID,
		PatientName: room.PatientName,
		Type:        string(msg.Type),
		Preview:     preview(msg),
	}
	safe.Go("push-notify", func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		d, err := s.doctors.GetDoctor(ctx, notice.DoctorID)
		if err != nil {
			s.log.Warn("push: doctor lookup failed", zap.Int64("doctorId", notice.DoctorID), zap.Error(err))
			return
		}
		if d.PushAddress == "" {
			return
		}
		notice.Address = d.PushAddress
		if err := s.notifier.Notify(ctx, notice); err != nil {
			s.log.Warn("push: notify failed",
				zap.Int64("doctorId", notice.DoctorID), zap.String("roomId", notice.RoomID), zap.Error(err))
		}
	})
}

func preview(m *model.Message) string {
	if m.Type != model.MessageText {
		return "[" + string(m.Type) + "]"
	}
	r := []rune(m.Content)
	if len(r) > previewRunes {
		return string(r[:previewRunes]) + "…"
	}
	return m.Content
}
