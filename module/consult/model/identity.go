package model

import "encoding/json"

type IdentityKind string

const (
	KindDoctor IdentityKind = "doctor" // 持有有效令牌（含管理员）
	KindGuest  IdentityKind = "guest"  // 匿名，每条连接一个身份
)

const (
	RoleDoctor = "doctor"
	RoleAdmin  = "admin"
)

// IdentityKey 可比较，用作在线表的键
type IdentityKey struct {
	Kind IdentityKind
	ID   string
}

func (k IdentityKey) String() string { return string(k.Kind) + ":" + k.ID }

// Identity 逻辑身份，区别于物理连接
type Identity struct {
	Kind      IdentityKind
	SubjectID string // KindDoctor
	Role      string
	DoctorID  *int64 // 管理员没有医生档案
	ConnID    string // KindGuest
}

func GuestIdentity(connID string) Identity {
	return Identity{Kind: KindGuest, ConnID: connID}
}

func (i Identity) Key() IdentityKey {
	if i.Kind == KindDoctor {
		return IdentityKey{Kind: KindDoctor, ID: i.SubjectID}
	}
	return IdentityKey{Kind: KindGuest, ID: i.ConnID}
}

func (i Identity) IsGuest() bool { return i.Kind == KindGuest }

func (i Identity) IsAdmin() bool { return i.Kind == KindDoctor && i.Role == RoleAdmin }

// HasDoctor reports whether the identity is a doctor with the given id.
func (i Identity) HasDoctor(id int64) bool {
	return i.Kind == KindDoctor && i.DoctorID != nil && *i.DoctorID == id
}

// UserID is the subject id for authenticated identities, nil for guests.
func (i Identity) UserID() *string {
	if i.Kind != KindDoctor {
		return nil
	}
	s := i.SubjectID
	return &s
}

// MarshalJSON renders the roster form: subject id or connection id.
func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Key().ID)
}

// Requester 发起变更的一方：身份 + 连接 + 已加入的房间
type Requester struct {
	Identity Identity
	ConnID   string
	RoomID   string
}

// IsRoomGuest reports whether the requester is the guest of roomID.
func (r Requester) IsRoomGuest(roomID string) bool {
	return r.Identity.IsGuest() && r.RoomID != "" && r.RoomID == roomID
}
