package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/walletsync/internal/core/canonical"
	"github.com/vietddude/walletsync/internal/core/domain"
)

type objectRepo struct {
	q queryer
}

type objectRow struct {
	Type string `db:"type"`
	Data []byte `db:"data"`
}

func (r *objectRepo) Get(ctx context.Context, userID int64, uri string) (domain.Object, error) {
	var row objectRow
	err := r.q.GetContext(ctx, &row,
		`SELECT type, data FROM objects WHERE user_id = $1 AND uri = $2`, userID, uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	obj, err := canonical.DecodeObject(domain.ObjectType(row.Type), nil, row.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored object %s: %w", uri, err)
	}
	return obj, nil
}

func (r *objectRepo) Put(ctx context.Context, userID int64, obj domain.Object) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode object: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO objects (user_id, uri, type, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, uri) DO UPDATE SET type = EXCLUDED.type, data = EXCLUDED.data`,
		userID, obj.ObjectURI(), string(obj.ObjectKind()), raw)
	if err != nil {
		return fmt.Errorf("failed to save object: %w", err)
	}
	return nil
}

func (r *objectRepo) Delete(ctx context.Context, userID int64, uri string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM objects WHERE user_id = $1 AND uri = $2`, userID, uri)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (r *objectRepo) DeleteByPrefix(ctx context.Context, userID int64, uriPrefix string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM objects WHERE user_id = $1 AND uri LIKE $2 || '%'`, userID, uriPrefix)
	if err != nil {
		return fmt.Errorf("failed to delete objects by prefix: %w", err)
	}
	return nil
}
