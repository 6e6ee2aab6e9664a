package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"caseflow/internal/db"
	"caseflow/internal/repo"
)

const (
	StageCreated       = "stage.created"
	StageAdvanced      = "stage.advanced"
	StageDeactivated   = "stage.deactivated"
	StageNextActionSet = "stage.next_action_updated"
	ActionRecorded     = "action.recorded"
	ActionResolved     = "action.resolved"
	EntityStage        = "pipeline_stage"
	EntityAction       = "pipeline_action"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, q repo.Querier, evtType, stageID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = q.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,stage_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, nullable(stageID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
