package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

const defaultListLimit = 50

var prdColumns = []string{"id", "owner_id", "title", "requirements", "platform", "content", "created_at"}

func (s *Store) InsertPRD(ctx context.Context, p PRD) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	q := s.sql.Insert("prds").
		Columns(prdColumns...).
		Values(p.ID, p.OwnerID, p.Title, p.Requirements, p.Platform, p.Content, p.CreatedAt.UTC().Truncate(time.Microsecond))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert prd query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert prd: %w", err)
	}
	return nil
}

// ListPRDsByOwner returns the owner's documents, newest first.
func (s *Store) ListPRDsByOwner(ctx context.Context, ownerID string, limit int) ([]PRD, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := s.sql.Select(prdColumns...).
		From("prds").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list prds query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list prds: %w", err)
	}
	defer rows.Close()

	out := make([]PRD, 0)
	for rows.Next() {
		p, err := scanPRD(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prd: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prds: %w", err)
	}
	return out, nil
}

func (s *Store) GetPRD(ctx context.Context, id string) (PRD, error) {
	q := s.sql.Select(prdColumns...).From("prds").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return PRD{}, fmt.Errorf("build get prd query: %w", err)
	}
	p, err := scanPRD(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PRD{}, ErrNotFound
		}
		return PRD{}, fmt.Errorf("get prd: %w", err)
	}
	return p, nil
}

// DeletePRD removes a document. An empty ownerID deletes regardless of
// owner.
func (s *Store) DeletePRD(ctx context.Context, id, ownerID string) error {
	where := sq.Eq{"id": id}
	if ownerID != "" {
		where["owner_id"] = ownerID
	}
	sqlStr, args, err := s.sql.Delete("prds").Where(where).ToSql()
	if err != nil {
		return fmt.Errorf("build delete prd query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete prd: %w", err)
	}
	return requireAffected(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPRD(row scanner) (PRD, error) {
	var p PRD
	err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Requirements, &p.Platform, &p.Content, &p.CreatedAt)
	return p, err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
