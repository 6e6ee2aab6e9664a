package repo

import (
	"context"
	"database/sql"

	"caseflow/internal/domain"
)

// UpsertActor registers an actor or updates its role and name.
func (r Repo) UpsertActor(ctx context.Context, q Querier, a domain.ActorRecord) error {
	_, err := r.exec(ctx, q, `INSERT INTO actors(id, role, name, created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role, name=excluded.name`, a.ID, a.Role, nullable(a.Name), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, q Querier, id string) (domain.ActorRecord, error) {
	var a domain.ActorRecord
	var name sql.NullString
	err := r.queryRow(ctx, q, `SELECT id, role, name, created_at FROM actors WHERE id=?`, id).Scan(&a.ID, &a.Role, &name, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.ActorRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.ActorRecord{}, err
	}
	a.Name = name.String
	return a, nil
}

func (r Repo) ListActors(ctx context.Context, q Querier, role domain.Role) ([]domain.ActorRecord, error) {
	query := `SELECT id, role, name, created_at FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY id`
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActorRecord
	for rows.Next() {
		var a domain.ActorRecord
		var name sql.NullString
		if err := rows.Scan(&a.ID, &a.Role, &name, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Name = name.String
		res = append(res, a)
	}
	return res, rows.Err()
}
