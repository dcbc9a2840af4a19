package model

import "time"

type RoomStatus string

const (
	RoomActive    RoomStatus = "ACTIVE"
	RoomCompleted RoomStatus = "COMPLETED"
)

// Room 一次会诊。状态只能 Active -> Completed。
type Room struct {
	ID          string     `json:"id" bson:"_id"`
	DoctorID    int64      `json:"doctorId" bson:"doctor_id"`
	PatientName string     `json:"patientName" bson:"patient_name"`
	Status      RoomStatus `json:"status" bson:"status"`
	CreatedAt   time.Time  `json:"createdAt" bson:"created_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completed_at,omitempty"`

	Doctor *DoctorCard `json:"doctor,omitempty" bson:"-"`
}

func (r *Room) IsActive() bool { return r.Status == RoomActive }

// Doctor 医生档案，UserID 对应令牌里的 sub
type Doctor struct {
	ID          int64     `json:"id" bson:"_id"`
	UserID      string    `json:"userId" bson:"user_id"`
	Name        string    `json:"name" bson:"name"`
	ImageURL    string    `json:"imageUrl,omitempty" bson:"image_url,omitempty"`
	PushAddress string    `json:"-" bson:"push_address,omitempty"` // 推送地址（设备 token / chat id）
	CreatedAt   time.Time `json:"createdAt" bson:"created_at"`
}

// DoctorCard is the display subset attached to messages and rooms.
type DoctorCard struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

func (d *Doctor) Card() *DoctorCard {
	if d == nil {
		return nil
	}
	return &DoctorCard{ID: d.ID, Name: d.Name, ImageURL: d.ImageURL}
}
