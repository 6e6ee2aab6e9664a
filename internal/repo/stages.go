package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"caseflow/internal/domain"
)

const stageColumns = `id,entity_id,entity_type,current_stage,situacion_migrante,created_by_agent_id,validated_by_lawyer_id,validated_at,contract_generated_by_id,contract_generated_at,hiring_code_id,next_action_type,next_action_responsible_id,next_action_due_date,next_action_description,notes,is_active,closed_reason,closed_at,stage_seq,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStage(row rowScanner) (domain.PipelineStage, error) {
	var s domain.PipelineStage
	var situacion, createdBy, validatedBy, validatedAt, contractBy, contractAt, hiringCode sql.NullString
	var naType, naResponsible, naDue, naDesc, notes, closedReason, closedAt sql.NullString
	var active int
	err := row.Scan(&s.ID, &s.EntityID, &s.EntityType, &s.CurrentStage, &situacion, &createdBy, &validatedBy, &validatedAt,
		&contractBy, &contractAt, &hiringCode, &naType, &naResponsible, &naDue, &naDesc, &notes, &active, &closedReason, &closedAt,
		&s.StageSeq, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.PipelineStage{}, ErrNotFound
	}
	if err != nil {
		return domain.PipelineStage{}, err
	}
	if situacion.Valid {
		s.SituacionMigrante = json.RawMessage(situacion.String)
	}
	s.CreatedByAgentID = stringPtr(createdBy)
	s.ValidatedByLawyerID = stringPtr(validatedBy)
	s.ValidatedAt = stringPtr(validatedAt)
	s.ContractGeneratedByID = stringPtr(contractBy)
	s.ContractGeneratedAt = stringPtr(contractAt)
	s.HiringCodeID = stringPtr(hiringCode)
	s.NextAction = domain.NextAction{
		Type:          stringPtr(naType),
		ResponsibleID: stringPtr(naResponsible),
		DueDate:       stringPtr(naDue),
		Description:   stringPtr(naDesc),
	}
	if notes.Valid {
		s.Notes = notes.String
	}
	s.IsActive = active != 0
	if closedReason.Valid {
		reason := domain.CloseReason(closedReason.String)
		s.ClosedReason = &reason
	}
	s.ClosedAt = stringPtr(closedAt)
	return s, nil
}

func (r Repo) InsertStage(ctx context.Context, q Querier, s domain.PipelineStage) error {
	_, err := r.exec(ctx, q, `INSERT INTO pipeline_stages(`+stageColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.EntityID, s.EntityType, s.CurrentStage, nullableJSON(s.SituacionMigrante),
		nullableStringPtr(s.CreatedByAgentID), nullableStringPtr(s.ValidatedByLawyerID), nullableStringPtr(s.ValidatedAt),
		nullableStringPtr(s.ContractGeneratedByID), nullableStringPtr(s.ContractGeneratedAt), nullableStringPtr(s.HiringCodeID),
		nullableStringPtr(s.NextAction.Type), nullableStringPtr(s.NextAction.ResponsibleID), nullableStringPtr(s.NextAction.DueDate),
		nullableStringPtr(s.NextAction.Description), nullable(s.Notes), boolInt(s.IsActive), nil, nil,
		s.StageSeq, s.Version, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetStage(ctx context.Context, q Querier, id string) (domain.PipelineStage, error) {
	return scanStage(r.queryRow(ctx, q, `SELECT `+stageColumns+` FROM pipeline_stages WHERE id=?`, id))
}

// GetStageForEntity returns the active stage of an entity, or its most recent one when none is active.
func (r Repo) GetStageForEntity(ctx context.Context, q Querier, entityID string, entityType domain.EntityType) (domain.PipelineStage, error) {
	return scanStage(r.queryRow(ctx, q, `SELECT `+stageColumns+` FROM pipeline_stages WHERE entity_id=? AND entity_type=?
ORDER BY is_active DESC, created_at DESC, id DESC LIMIT 1`, entityID, entityType))
}

// LockStage bumps the stage version. Run first inside a transaction, it serializes every
// mutation on the stage: a row lock on PostgreSQL, the write lock on SQLite.
func (r Repo) LockStage(ctx context.Context, q Querier, id string) error {
	res, err := r.exec(ctx, q, `UPDATE pipeline_stages SET version=version+1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveStage sets the current stage and visit counter. Provenance fields only fill empty columns.
func (r Repo) MoveStage(ctx context.Context, q Querier, id string, to domain.Stage, stageSeq int, p domain.Provenance, now string) error {
	res, err := r.exec(ctx, q, `UPDATE pipeline_stages SET current_stage=?, stage_seq=?,
created_by_agent_id=COALESCE(created_by_agent_id, ?),
validated_by_lawyer_id=COALESCE(validated_by_lawyer_id, ?),
validated_at=COALESCE(validated_at, ?),
contract_generated_by_id=COALESCE(contract_generated_by_id, ?),
contract_generated_at=COALESCE(contract_generated_at, ?),
hiring_code_id=COALESCE(hiring_code_id, ?),
updated_at=?
WHERE id=? AND is_active=1`,
		to, stageSeq,
		nullableStringPtr(p.CreatedByAgentID), nullableStringPtr(p.ValidatedByLawyerID), nullableStringPtr(p.ValidatedAt),
		nullableStringPtr(p.ContractGeneratedByID), nullableStringPtr(p.ContractGeneratedAt), nullableStringPtr(p.HiringCodeID),
		now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetNextAction(ctx context.Context, q Querier, id string, next domain.NextAction, now string) error {
	res, err := r.exec(ctx, q, `UPDATE pipeline_stages SET next_action_type=?, next_action_responsible_id=?, next_action_due_date=?, next_action_description=?, updated_at=? WHERE id=?`,
		nullableStringPtr(next.Type), nullableStringPtr(next.ResponsibleID), nullableStringPtr(next.DueDate), nullableStringPtr(next.Description), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeactivateStage(ctx context.Context, q Querier, id string, reason domain.CloseReason, now string) error {
	res, err := r.exec(ctx, q, `UPDATE pipeline_stages SET is_active=0, closed_reason=?, closed_at=?,
next_action_type=NULL, next_action_responsible_id=NULL, next_action_due_date=NULL, next_action_description=NULL, updated_at=?
WHERE id=? AND is_active=1`, reason, now, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type StageFilters struct {
	EntityType      string
	CurrentStage    string
	ResponsibleID   string
	IsActive        *bool
	CreatedFrom     string
	CreatedTo       string
	DueBefore       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListStages(ctx context.Context, q Querier, f StageFilters) ([]domain.PipelineStage, error) {
	var clauses []string
	var args []any
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.CurrentStage != "" {
		clauses = append(clauses, "current_stage=?")
		args = append(args, f.CurrentStage)
	}
	if f.ResponsibleID != "" {
		clauses = append(clauses, "next_action_responsible_id=?")
		args = append(args, f.ResponsibleID)
	}
	if f.IsActive != nil {
		clauses = append(clauses, "is_active=?")
		args = append(args, boolInt(*f.IsActive))
	}
	if f.CreatedFrom != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.CreatedFrom)
	}
	if f.CreatedTo != "" {
		clauses = append(clauses, "created_at<=?")
		args = append(args, f.CreatedTo)
	}
	if f.DueBefore != "" {
		clauses = append(clauses, "next_action_due_date IS NOT NULL AND next_action_due_date<?")
		args = append(args, f.DueBefore)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + stageColumns + ` FROM pipeline_stages ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.PipelineStage{}
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
