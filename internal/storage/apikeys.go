package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var apiKeyColumns = []string{"id", "owner_id", "key_type", "enc_api_key", "key_hint", "is_global", "created_at", "updated_at"}

// UpsertAPIKey stores one key per type and scope, replacing an existing one.
func (s *Store) UpsertAPIKey(ctx context.Context, k APIKey) error {
	if k.IsGlobal {
		k.OwnerID = ""
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	q := s.sql.Insert("api_keys").
		Columns("owner_id", "key_type", "enc_api_key", "key_hint", "is_global", "created_at", "updated_at").
		Values(k.OwnerID, k.KeyType, k.EncAPIKey, k.KeyHint, k.IsGlobal, now, now).
		Suffix("ON CONFLICT(owner_id, key_type) DO UPDATE SET enc_api_key=excluded.enc_api_key, key_hint=excluded.key_hint, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build api key upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert api key: %w", err)
	}
	return nil
}

func (s *Store) ListUserAPIKeys(ctx context.Context, ownerID string) ([]APIKey, error) {
	return s.listAPIKeys(ctx, sq.Eq{"owner_id": ownerID, "is_global": false})
}

func (s *Store) ListGlobalAPIKeys(ctx context.Context) ([]APIKey, error) {
	return s.listAPIKeys(ctx, sq.Eq{"is_global": true})
}

// ListAllAPIKeys is used by key rotation.
func (s *Store) ListAllAPIKeys(ctx context.Context) ([]APIKey, error) {
	return s.listAPIKeys(ctx, nil)
}

func (s *Store) listAPIKeys(ctx context.Context, where sq.Sqlizer) ([]APIKey, error) {
	q := s.sql.Select(apiKeyColumns...).From("api_keys").OrderBy("key_type ASC", "id ASC")
	if where != nil {
		q = q.Where(where)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list api keys query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	out := make([]APIKey, 0)
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.KeyType, &k.EncAPIKey, &k.KeyHint, &k.IsGlobal, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateAPIKeyCiphertext(ctx context.Context, id int64, enc string) error {
	q := s.sql.Update("api_keys").
		Set("enc_api_key", enc).
		Set("updated_at", time.Now().UTC().Truncate(time.Microsecond)).
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update api key query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return requireAffected(res)
}

// DeleteAPIKey removes a key. Global keys are addressed with global=true.
func (s *Store) DeleteAPIKey(ctx context.Context, ownerID, keyType string, global bool) error {
	if global {
		ownerID = ""
	}
	q := s.sql.Delete("api_keys").Where(sq.Eq{"owner_id": ownerID, "key_type": keyType, "is_global": global})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete api key query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireAffected(res)
}
