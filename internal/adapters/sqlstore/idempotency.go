package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/ports/out/idempotency"
)

// IdempotencyStore is a database/sql implementation of idempotency.Store.
type IdempotencyStore struct {
	db      *sql.DB
	dialect Dialect
}

func (s *IdempotencyStore) Get(ctx context.Context, fp idempotency.Fingerprint) (idempotency.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.dialect, `
		SELECT status_code, content_type, body, created_at
		FROM idempotency_keys
		WHERE idempotency_key = ?
		  AND method = ?
		  AND route = ?
		  AND body_hash = ?
	`),
		string(fp.Key),
		fp.Method,
		fp.Route,
		fp.BodyHash,
	)
	var (
		rec       idempotency.Record
		createdAt int64
	)
	if err := row.Scan(&rec.StatusCode, &rec.ContentType, &rec.Body, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return idempotency.Record{}, false, nil
		}
		return idempotency.Record{}, false, goerr.Wrap(err, "select idempotency record", goerr.V("route", fp.Route))
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, true, nil
}

func (s *IdempotencyStore) Put(ctx context.Context, fp idempotency.Fingerprint, rec idempotency.Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	body := rec.Body
	if body == nil {
		body = []byte{}
	}
	_, err := s.db.ExecContext(ctx, rebind(s.dialect, `
		INSERT INTO idempotency_keys (
			idempotency_key,
			method,
			route,
			body_hash,
			status_code,
			content_type,
			body,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key, method, route, body_hash)
		DO UPDATE SET
			status_code = excluded.status_code,
			content_type = excluded.content_type,
			body = excluded.body,
			created_at = excluded.created_at
	`),
		string(fp.Key),
		fp.Method,
		fp.Route,
		fp.BodyHash,
		rec.StatusCode,
		rec.ContentType,
		body,
		createdAt.UnixNano(),
	)
	if err != nil {
		return goerr.Wrap(err, "upsert idempotency record", goerr.V("route", fp.Route))
	}
	return nil
}
