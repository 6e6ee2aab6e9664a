package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"caseflow/internal/db"
	"caseflow/internal/domain"
)

const actionColumns = `id,pipeline_stage_id,seq,stage,stage_seq,action_type,action_name,performed_by_id,responsible_for_validation_id,status,action_data,description,validated_at,validated_by_id,validation_notes,idempotency_key,created_at,updated_at`

func scanAction(row rowScanner) (domain.PipelineAction, error) {
	var a domain.PipelineAction
	var name, responsible, data, description, validatedAt, validatedBy, notes, idem sql.NullString
	err := row.Scan(&a.ID, &a.PipelineStageID, &a.Seq, &a.Stage, &a.StageSeq, &a.ActionType, &name, &a.PerformedByID,
		&responsible, &a.Status, &data, &description, &validatedAt, &validatedBy, &notes, &idem, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.PipelineAction{}, ErrNotFound
	}
	if err != nil {
		return domain.PipelineAction{}, err
	}
	if name.Valid {
		a.ActionName = name.String
	}
	if data.Valid {
		a.ActionData = json.RawMessage(data.String)
	}
	if description.Valid {
		a.Description = description.String
	}
	a.ResponsibleForValidationID = stringPtr(responsible)
	a.ValidatedAt = stringPtr(validatedAt)
	a.ValidatedByID = stringPtr(validatedBy)
	a.ValidationNotes = stringPtr(notes)
	a.IdempotencyKey = stringPtr(idem)
	return a, nil
}

func (r Repo) InsertAction(ctx context.Context, q Querier, a domain.PipelineAction) error {
	_, err := r.exec(ctx, q, `INSERT INTO pipeline_actions(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.PipelineStageID, a.Seq, a.Stage, a.StageSeq, a.ActionType, nullable(a.ActionName), a.PerformedByID,
		nullableStringPtr(a.ResponsibleForValidationID), a.Status, nullableJSON(a.ActionData), nullable(a.Description),
		nullableStringPtr(a.ValidatedAt), nullableStringPtr(a.ValidatedByID), nullableStringPtr(a.ValidationNotes),
		nullableStringPtr(a.IdempotencyKey), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAction(ctx context.Context, q Querier, id string) (domain.PipelineAction, error) {
	return scanAction(r.queryRow(ctx, q, `SELECT `+actionColumns+` FROM pipeline_actions WHERE id=?`, id))
}

func (r Repo) GetActionByIdempotencyKey(ctx context.Context, q Querier, stageID, key string) (domain.PipelineAction, error) {
	return scanAction(r.queryRow(ctx, q, `SELECT `+actionColumns+` FROM pipeline_actions WHERE pipeline_stage_id=? AND idempotency_key=?`, stageID, key))
}

// NextActionSeq returns the next append position in a stage's log. Call it with the stage locked.
func (r Repo) NextActionSeq(ctx context.Context, q Querier, stageID string) (int, error) {
	var seq int
	err := r.queryRow(ctx, q, `SELECT COALESCE(MAX(seq), 0) + 1 FROM pipeline_actions WHERE pipeline_stage_id=?`, stageID).Scan(&seq)
	return seq, err
}

// ResolveAction moves a pending action to its final status. It reports false when the action
// was no longer pending, so exactly one caller wins.
func (r Repo) ResolveAction(ctx context.Context, q Querier, id string, status domain.ActionStatus, resolverID string, notes *string, now string) (bool, error) {
	res, err := r.exec(ctx, q, `UPDATE pipeline_actions SET status=?, validated_at=?, validated_by_id=?, validation_notes=?, updated_at=?
WHERE id=? AND status=?`, status, now, resolverID, nullableStringPtr(notes), now, id, domain.StatusPendingValidation)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type ActionFilters struct {
	StageID string
	Status  string
	Offset  int
	Limit   int
}

func (f ActionFilters) where() (string, []any) {
	clauses := []string{"pipeline_stage_id=?"}
	args := []any{f.StageID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListActions returns a stage's log in append order.
func (r Repo) ListActions(ctx context.Context, q Querier, f ActionFilters) ([]domain.PipelineAction, error) {
	where, args := f.where()
	query := `SELECT ` + actionColumns + ` FROM pipeline_actions ` + where + ` ORDER BY seq ASC`
	switch {
	case f.Limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	case f.Offset > 0:
		// SQLite only accepts OFFSET after a LIMIT; -1 means no limit there.
		if r.Dialect == db.Postgres {
			query += " OFFSET ?"
		} else {
			query += " LIMIT -1 OFFSET ?"
		}
		args = append(args, f.Offset)
	}
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.PipelineAction{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountActions(ctx context.Context, q Querier, f ActionFilters) (int, error) {
	where, args := f.where()
	var n int
	err := r.queryRow(ctx, q, `SELECT COUNT(*) FROM pipeline_actions `+where, args...).Scan(&n)
	return n, err
}
