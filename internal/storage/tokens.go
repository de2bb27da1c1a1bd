package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) CreateAccessToken(ctx context.Context, t AccessToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	q := s.sql.Insert("access_tokens").
		Columns("token_hash", "user_id", "is_admin", "label", "created_at").
		Values(t.TokenHash, t.UserID, t.IsAdmin, t.Label, t.CreatedAt.UTC().Truncate(time.Microsecond))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert token query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	return nil
}

func (s *Store) LookupAccessToken(ctx context.Context, tokenHash string) (AccessToken, error) {
	q := s.sql.Select("token_hash", "user_id", "is_admin", "label", "created_at").
		From("access_tokens").
		Where(sq.Eq{"token_hash": tokenHash})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return AccessToken{}, fmt.Errorf("build lookup token query: %w", err)
	}
	var t AccessToken
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&t.TokenHash, &t.UserID, &t.IsAdmin, &t.Label, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AccessToken{}, ErrNotFound
		}
		return AccessToken{}, fmt.Errorf("lookup access token: %w", err)
	}
	return t, nil
}

func (s *Store) LogAction(ctx context.Context, e AuditEntry) error {
	if strings.TrimSpace(e.MetaJSON) == "" || !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}

	q := s.sql.Insert("audit_log").
		Columns("actor_id", "action", "meta_json").
		Values(e.ActorID, e.Action, e.MetaJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
