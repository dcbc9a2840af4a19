package store

import (
	"context"
	"time"

	"consultchat/data/database/mgo/mongoutil"
	"consultchat/module/consult/model"
	"consultchat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps rooms, messages and doctors in three collections.
type MongoStore struct {
	cli      *mongoutil.Client
	rooms    *mongo.Collection
	messages *mongo.Collection
	doctors  *mongo.Collection
	now      func() time.Time
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(cli *mongoutil.Client) *MongoStore {
	db := cli.GetDB()
	return &MongoStore{
		cli:      cli,
		rooms:    db.Collection(model.RoomTableName),
		messages: db.Collection(model.MessageTableName),
		doctors:  db.Collection(model.DoctorTableName),
		now:      Now,
	}
}

func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}},
		{
			// 幂等发送：同房间 clientMsgId 唯一
			Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "client_msg_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"client_msg_id": bson.M{"$type": "string"}}),
		},
	})
	if err != nil {
		return errs.IO(err, "create message indexes")
	}
	if _, err = s.rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "doctor_id", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return errs.IO(err, "create room indexes")
	}
	if _, err = s.doctors.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errs.IO(err, "create doctor indexes")
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error { return s.cli.Close(ctx) }

// ===== rooms =====

func (s *MongoStore) CreateRoom(ctx context.Context, r *model.Room) error {
	if _, err := s.rooms.InsertOne(ctx, r); err != nil {
		if mongoutil.IsDuplicate(err) {
			return errs.ErrInvalidState.WrapMsg("room exists", "id", r.ID)
		}
		return errs.IO(err, "insert room")
	}
	return nil
}

func (s *MongoStore) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	var r model.Room
	if err := s.rooms.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, notFoundOrIO(err, "room", id)
	}
	return &r, nil
}

func (s *MongoStore) ListRooms(ctx context.Context, f RoomFilter) ([]*model.Room, error) {
	filter := bson.M{}
	if f.DoctorID != nil {
		filter["doctor_id"] = *f.DoctorID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := s.rooms.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.IO(err, "find rooms")
	}
	out := make([]*model.Room, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.IO(err, "decode rooms")
	}
	return out, nil
}

func (s *MongoStore) CompleteRoom(ctx context.Context, id string) (*model.Room, error) {
	now := s.now()
	// 只更新仍为 ACTIVE 的房间；已完成的保持原样
	_, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": id, "status": model.RoomActive},
		bson.M{"$set": bson.M{"status": model.RoomCompleted, "completed_at": now}})
	if err != nil {
		return nil, errs.IO(err, "complete room")
	}
	return s.GetRoom(ctx, id)
}

// ===== messages =====

func (s *MongoStore) CreateMessage(ctx context.Context, m *model.Message) error {
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		if mongoutil.IsDuplicate(err) {
			return errs.ErrInvalidState.WrapMsg("duplicate message", "id", m.ID, "clientMsgId", m.ClientMsgID)
		}
		return errs.IO(err, "insert message")
	}
	return nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, notFoundOrIO(err, "message", id)
	}
	return &m, nil
}

func (s *MongoStore) FindByClientMsgID(ctx context.Context, roomID, clientMsgID string) (*model.Message, error) {
	if clientMsgID == "" {
		return nil, errs.ErrNotFound.WrapMsg("message", "clientMsgId", "")
	}
	var m model.Message
	err := s.messages.FindOne(ctx, bson.M{"room_id": roomID, "client_msg_id": clientMsgID}).Decode(&m)
	if err != nil {
		return nil, notFoundOrIO(err, "message", clientMsgID)
	}
	return &m, nil
}

func (s *MongoStore) UpdateContent(ctx context.Context, id, content string) (*model.Message, error) {
	return s.updateActive(ctx, id, bson.M{"content": content, "updated_at": s.now()})
}

func (s *MongoStore) SoftDelete(ctx context.Context, id string) (*model.Message, error) {
	now := s.now()
	return s.updateActive(ctx, id, bson.M{"status": model.MessageDeleted, "deleted_at": now, "updated_at": now})
}

// updateActive 条件更新：status 必须仍为 ACTIVE
func (s *MongoStore) updateActive(ctx context.Context, id string, set bson.M) (*model.Message, error) {
	var m model.Message
	err := s.messages.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": model.MessageActive},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return nil, notFoundOrIO(err, "message", id)
	}
	return &m, nil
}

func (s *MongoStore) ListActive(ctx context.Context, roomID string) ([]*model.Message, error) {
	cur, err := s.messages.Find(ctx,
		bson.M{"room_id": roomID, "status": model.MessageActive},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}))
	if err != nil {
		return nil, errs.IO(err, "find messages")
	}
	out := make([]*model.Message, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.IO(err, "decode messages")
	}
	return out, nil
}

// ===== doctors =====

func (s *MongoStore) PutDoctor(ctx context.Context, d *model.Doctor) error {
	_, err := s.doctors.ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	return errs.IO(err, "put doctor")
}

func (s *MongoStore) GetDoctor(ctx context.Context, id int64) (*model.Doctor, error) {
	var d model.Doctor
	if err := s.doctors.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, notFoundOrIO(err, "doctor", id)
	}
	return &d, nil
}

func (s *MongoStore) DoctorByUserID(ctx context.Context, userID string) (*model.Doctor, error) {
	var d model.Doctor
	if err := s.doctors.FindOne(ctx, bson.M{"user_id": userID}).Decode(&d); err != nil {
		return nil, notFoundOrIO(err, "doctor", userID)
	}
	return &d, nil
}

func notFoundOrIO(err error, what string, id any) error {
	if mongoutil.IsNotFound(err) {
		return errs.ErrNotFound.WrapMsg(what, "id", id)
	}
	return errs.IO(err, "find "+what)
}
