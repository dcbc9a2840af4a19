package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"consultchat/module/consult/model"
	"consultchat/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS doctors (
	id           BIGINT PRIMARY KEY,
	user_id      TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	image_url    TEXT NOT NULL DEFAULT '',
	push_address TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS rooms (
	id           TEXT PRIMARY KEY,
	doctor_id    BIGINT NOT NULL,
	patient_name TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'ACTIVE',
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS rooms_doctor_created ON rooms (doctor_id, created_at DESC);
CREATE TABLE IF NOT EXISTS messages (
	id               TEXT PRIMARY KEY,
	room_id          TEXT NOT NULL REFERENCES rooms(id),
	author_doctor_id BIGINT,
	type             TEXT NOT NULL,
	content          TEXT NOT NULL,
	client_msg_id    TEXT,
	seq              BIGINT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'ACTIVE',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	deleted_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS messages_room_history ON messages (room_id, status, created_at, seq);
CREATE UNIQUE INDEX IF NOT EXISTS messages_room_client ON messages (room_id, client_msg_id) WHERE client_msg_id IS NOT NULL;
`

const messageColumns = `id, room_id, author_doctor_id, type, content, client_msg_id, seq, status, created_at, updated_at, deleted_at`

const roomColumns = `id, doctor_id, patient_name, status, created_at, completed_at`

// PostgresStore 基于 pgxpool
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.ErrBadRequest.WrapMsg("parse postgres dsn", "err", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.IO(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.IO(err, "ping postgres")
	}
	return &PostgresStore{pool: pool, now: Now}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgSchema)
	return errs.IO(err, "migrate postgres")
}

func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// ===== rooms =====

func (s *PostgresStore) CreateRoom(ctx context.Context, r *model.Room) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (`+roomColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		r.ID, r.DoctorID, r.PatientName, r.Status, r.CreatedAt, r.CompletedAt)
	if isUniqueViolation(err) {
		return errs.ErrInvalidState.WrapMsg("room exists", "id", r.ID)
	}
	return errs.IO(err, "insert room")
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	r, err := scanRoom(row)
	if err != nil {
		return nil, pgNotFoundOrIO(err, "room", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context, f RoomFilter) ([]*model.Room, error) {
	var (
		where []string
		args  []any
	)
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, "doctor_id = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	q := `SELECT ` + roomColumns + ` FROM rooms`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errs.IO(err, "list rooms")
	}
	defer rows.Close()
	out := make([]*model.Room, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, errs.IO(err, "scan room")
		}
		out = append(out, r)
	}
	return out, errs.IO(rows.Err(), "list rooms")
}

func (s *PostgresStore) CompleteRoom(ctx context.Context, id string) (*model.Room, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE rooms SET status = $2, completed_at = $3 WHERE id = $1 AND status = $4`,
		id, model.RoomCompleted, s.now(), model.RoomActive)
	if err != nil {
		return nil, errs.IO(err, "complete room")
	}
	return s.GetRoom(ctx, id)
}

// ===== messages =====

func (s *PostgresStore) CreateMessage(ctx context.Context, m *model.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.RoomID, m.AuthorDoctorID, m.Type, m.Content, nullString(m.ClientMsgID),
		m.Seq, m.Status, m.CreatedAt, m.UpdatedAt, m.DeletedAt)
	if isUniqueViolation(err) {
		return errs.ErrInvalidState.WrapMsg("duplicate message", "id", m.ID, "clientMsgId", m.ClientMsgID)
	}
	return errs.IO(err, "insert message")
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return nil, pgNotFoundOrIO(err, "message", id)
	}
	return m, nil
}

func (s *PostgresStore) FindByClientMsgID(ctx context.Context, roomID, clientMsgID string) (*model.Message, error) {
	if clientMsgID == "" {
		return nil, errs.ErrNotFound.WrapMsg("message", "clientMsgId", "")
	}
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE room_id = $1 AND client_msg_id = $2`, roomID, clientMsgID))
	if err != nil {
		return nil, pgNotFoundOrIO(err, "message", clientMsgID)
	}
	return m, nil
}

func (s *PostgresStore) UpdateContent(ctx context.Context, id, content string) (*model.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`UPDATE messages SET content = $2, updated_at = $3 WHERE id = $1 AND status = $4 RETURNING `+messageColumns,
		id, content, s.now(), model.MessageActive))
	if err != nil {
		return nil, pgNotFoundOrIO(err, "message", id)
	}
	return m, nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, id string) (*model.Message, error) {
	now := s.now()
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`UPDATE messages SET status = $2, deleted_at = $3, updated_at = $3 WHERE id = $1 AND status = $4 RETURNING `+messageColumns,
		id, model.MessageDeleted, now, model.MessageActive))
	if err != nil {
		return nil, pgNotFoundOrIO(err, "message", id)
	}
	return m, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, roomID string) ([]*model.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE room_id = $1 AND status = $2 ORDER BY created_at, seq`,
		roomID, model.MessageActive)
	if err != nil {
		return nil, errs.IO(err, "list messages")
	}
	defer rows.Close()
	out := make([]*model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errs.IO(err, "scan message")
		}
		out = append(out, m)
	}
	return out, errs.IO(rows.Err(), "list messages")
}

// ===== doctors =====

func (s *PostgresStore) PutDoctor(ctx context.Context, d *model.Doctor) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO doctors (id, user_id, name, image_url, push_address, created_at) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, name = EXCLUDED.name,
	image_url = EXCLUDED.image_url, push_address = EXCLUDED.push_address`,
		d.ID, d.UserID, d.Name, d.ImageURL, d.PushAddress, created)
	return errs.IO(err, "put doctor")
}

func (s *PostgresStore) GetDoctor(ctx context.Context, id int64) (*model.Doctor, error) {
	return s.doctorWhere(ctx, "id = $1", id)
}

func (s *PostgresStore) DoctorByUserID(ctx context.Context, userID string) (*model.Doctor, error) {
	return s.doctorWhere(ctx, "user_id = $1", userID)
}

func (s *PostgresStore) doctorWhere(ctx context.Context, cond string, arg any) (*model.Doctor, error) {
	var d model.Doctor
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, image_url, push_address, created_at FROM doctors WHERE `+cond, arg).
		Scan(&d.ID, &d.UserID, &d.Name, &d.ImageURL, &d.PushAddress, &d.CreatedAt)
	if err != nil {
		return nil, pgNotFoundOrIO(err, "doctor", arg)
	}
	return &d, nil
}

// ===== helpers =====

func scanRoom(row pgx.Row) (*model.Room, error) {
	var r model.Room
	if err := row.Scan(&r.ID, &r.DoctorID, &r.PatientName, &r.Status, &r.CreatedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		m        model.Message
		clientID *string
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.AuthorDoctorID, &m.Type, &m.Content, &clientID,
		&m.Seq, &m.Status, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if err != nil {
		return nil, err
	}
	if clientID != nil {
		m.ClientMsgID = *clientID
	}
	return &m, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func pgNotFoundOrIO(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound.WrapMsg(what, "id", id)
	}
	return errs.IO(err, "query "+what)
}
