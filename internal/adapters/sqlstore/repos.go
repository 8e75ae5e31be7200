package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", goerr.Wrap(err, "encode entity")
	}
	return string(b), nil
}

func decode[T any](data string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, goerr.Wrap(err, "decode entity")
	}
	return v, nil
}

func getDoc[T any](t *tx, table, id string) (T, error) {
	var data string
	err := t.queryRow("SELECT data FROM "+table+" WHERE id = ?", id).Scan(&data)
	if err != nil {
		var zero T
		if errors.Is(err, sql.ErrNoRows) {
			return zero, localstore.ErrNotFound
		}
		return zero, goerr.Wrap(err, "select entity", goerr.V("table", table), goerr.V("id", id))
	}
	return decode[T](data)
}

func listDocs[T any](t *tx, query string, args ...any) ([]T, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "list entities")
	}
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, goerr.Wrap(err, "scan entity")
		}
		v, err := decode[T](data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate entities")
	}
	return out, nil
}

// insertRow runs an INSERT ... ON CONFLICT DO NOTHING and maps a no-op to
// ErrAlreadyExists. A failed statement would abort a Postgres transaction, so
// conflicts are never raised as errors.
func insertRow(t *tx, query string, args ...any) error {
	res, err := t.exec(query, args...)
	if err != nil {
		return wrapWrite(err, "insert entity")
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return localstore.ErrAlreadyExists
	}
	return nil
}

func updateRow(t *tx, query string, args ...any) error {
	res, err := t.exec(query, args...)
	if err != nil {
		return wrapWrite(err, "update entity")
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return localstore.ErrNotFound
	}
	return nil
}

func nanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullString[T ~string](p *T) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

type users struct{ *tx }

func (r users) Get(ctx context.Context, id domain.UserID) (domain.User, error) {
	_ = ctx
	return getDoc[domain.User](r.tx, "users", string(id))
}

func (r users) Insert(ctx context.Context, u domain.User) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	data, err := encode(u)
	if err != nil {
		return err
	}
	return insertRow(r.tx, `INSERT INTO users (id, data) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`, string(u.ID), data)
}

func (r users) Save(ctx context.Context, u domain.User) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	data, err := encode(u)
	if err != nil {
		return err
	}
	return updateRow(r.tx, `UPDATE users SET data = ? WHERE id = ?`, data, string(u.ID))
}

func (r users) List(ctx context.Context) ([]domain.User, error) {
	_ = ctx
	return listDocs[domain.User](r.tx, `SELECT data FROM users ORDER BY id`)
}

type divisions struct{ *tx }

func (r divisions) Get(ctx context.Context, id domain.DivisionID) (domain.Division, error) {
	_ = ctx
	return getDoc[domain.Division](r.tx, "divisions", string(id))
}

func (r divisions) Insert(ctx context.Context, d domain.Division) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	data, err := encode(d)
	if err != nil {
		return err
	}
	return insertRow(r.tx, `
		INSERT INTO divisions (id, membership_status, data) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, string(d.ID), string(d.MembershipStatus), data)
}

func (r divisions) Save(ctx context.Context, d domain.Division) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	data, err := encode(d)
	if err != nil {
		return err
	}
	return updateRow(r.tx, `UPDATE divisions SET membership_status = ?, data = ? WHERE id = ?`,
		string(d.MembershipStatus), data, string(d.ID))
}

func (r divisions) List(ctx context.Context, f localstore.DivisionFilter) ([]domain.Division, error) {
	_ = ctx
	if f.Status != nil {
		return listDocs[domain.Division](r.tx,
			`SELECT data FROM divisions WHERE membership_status = ? ORDER BY id`, string(*f.Status))
	}
	return listDocs[domain.Division](r.tx, `SELECT data FROM divisions ORDER BY id`)
}

type events struct{ *tx }

func (r events) Get(ctx context.Context, id domain.EventID) (domain.Event, error) {
	_ = ctx
	return getDoc[domain.Event](r.tx, "events", string(id))
}

func (r events) Insert(ctx context.Context, e domain.Event) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	data, err := encode(e)
	if err != nil {
		return err
	}
	return insertRow(r.tx, `
		INSERT INTO events (id, start_at, end_at, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, string(e.ID), nanos(e.Start), nanos(e.End), data)
}

func (r events) Save(ctx context.Context, e domain.Event) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	data, err := encode(e)
	if err != nil {
		return err
	}
	return updateRow(r.tx, `UPDATE events SET start_at = ?, end_at = ?, data = ? WHERE id = ?`,
		nanos(e.Start), nanos(e.End), data, string(e.ID))
}

func (r events) List(ctx context.Context, f localstore.EventFilter) ([]domain.Event, error) {
	_ = ctx
	query := `SELECT data FROM events`
	var args []any
	if f.From != nil || f.To != nil {
		query += ` WHERE start_at IS NOT NULL`
		if f.From != nil {
			query += ` AND COALESCE(end_at, start_at) >= ?`
			args = append(args, f.From.UnixNano())
		}
		if f.To != nil {
			query += ` AND start_at < ?`
			args = append(args, f.To.UnixNano())
		}
	}
	query += ` ORDER BY start_at IS NULL, start_at, id`
	return listDocs[domain.Event](r.tx, query, args...)
}

type messages struct{ *tx }

func (r messages) Get(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	_ = ctx
	return getDoc[domain.Message](r.tx, "messages", string(id))
}

func (r messages) Insert(ctx context.Context, m domain.Message) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	data, err := encode(m)
	if err != nil {
		return err
	}
	return insertRow(r.tx, `
		INSERT INTO messages (id, division_id, sent_at, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, string(m.ID), nullString(m.Division), nanos(m.Timestamp), data)
}

func (r messages) Save(ctx context.Context, m domain.Message) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	data, err := encode(m)
	if err != nil {
		return err
	}
	return updateRow(r.tx, `UPDATE messages SET division_id = ?, sent_at = ?, data = ? WHERE id = ?`,
		nullString(m.Division), nanos(m.Timestamp), data, string(m.ID))
}

func (r messages) ListByDivision(ctx context.Context, id domain.DivisionID, limit int) ([]domain.Message, error) {
	_ = ctx
	query := `SELECT data FROM messages WHERE division_id = ? ORDER BY sent_at IS NULL, sent_at DESC, id DESC`
	args := []any{string(id)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return listDocs[domain.Message](r.tx, query, args...)
}

type attendance struct{ *tx }

func (r attendance) Get(ctx context.Context, eventID domain.EventID, userID domain.UserID) (domain.Attendance, error) {
	_ = ctx
	var resp string
	err := r.queryRow(`SELECT response FROM attendance WHERE event_id = ? AND user_id = ?`,
		string(eventID), string(userID)).Scan(&resp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Attendance{}, localstore.ErrNotFound
		}
		return domain.Attendance{}, goerr.Wrap(err, "select attendance",
			goerr.V("event_id", eventID), goerr.V("user_id", userID))
	}
	return domain.Attendance{EventID: eventID, UserID: userID, Response: domain.EventResponse(resp)}, nil
}

func (r attendance) Upsert(ctx context.Context, a domain.Attendance) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	_, err := r.exec(`
		INSERT INTO attendance (event_id, user_id, response) VALUES (?, ?, ?)
		ON CONFLICT (event_id, user_id) DO UPDATE SET response = excluded.response
	`, string(a.EventID), string(a.UserID), string(a.Response))
	if err != nil {
		return goerr.Wrap(err, "upsert attendance", goerr.V("event_id", a.EventID), goerr.V("user_id", a.UserID))
	}
	return nil
}

func (r attendance) Delete(ctx context.Context, eventID domain.EventID, userID domain.UserID) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	_, err := r.exec(`DELETE FROM attendance WHERE event_id = ? AND user_id = ?`, string(eventID), string(userID))
	if err != nil {
		return goerr.Wrap(err, "delete attendance", goerr.V("event_id", eventID), goerr.V("user_id", userID))
	}
	return nil
}

func (r attendance) ListByEvent(ctx context.Context, eventID domain.EventID) ([]domain.Attendance, error) {
	_ = ctx
	rows, err := r.query(`SELECT user_id, response FROM attendance WHERE event_id = ? ORDER BY user_id`, string(eventID))
	if err != nil {
		return nil, goerr.Wrap(err, "list attendance", goerr.V("event_id", eventID))
	}
	defer rows.Close()
	out := make([]domain.Attendance, 0)
	for rows.Next() {
		var userID, resp string
		if err := rows.Scan(&userID, &resp); err != nil {
			return nil, goerr.Wrap(err, "scan attendance")
		}
		out = append(out, domain.Attendance{
			EventID:  eventID,
			UserID:   domain.UserID(userID),
			Response: domain.EventResponse(resp),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate attendance")
	}
	return out, nil
}
