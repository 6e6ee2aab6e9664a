package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/registry"
	"caseflow/internal/repo"
)

var (
	tracer   = otel.Tracer("caseflow/engine")
	validate = validator.New(validator.WithRequiredStructEnabled())
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Registry *registry.Registry
	Log      *zap.Logger
	Now      func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, reg *registry.Registry, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Events:   events.Writer{Dialect: dialect},
		Registry: reg,
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) appendEvent(ctx context.Context, q repo.Querier, evtType, stageID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, q, evtType, stageID, entityKind, entityID, actorID, payload)
}

// finish ends the span and logs rejected calls. Errors pass through unchanged.
func (e Engine) finish(span trace.Span, op string, err error) error {
	defer span.End()
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if kind := domain.KindName(err); kind != "" {
		e.logger().Debug("call rejected", zap.String("op", op), zap.String("kind", kind), zap.Error(err))
	} else {
		e.logger().Error("call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func invalidInput(op string, err error) error {
	return &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: op, Detail: err.Error()}
}

func validateOptions(op string, opts any) error {
	if err := validate.Struct(opts); err != nil {
		return invalidInput(op, err)
	}
	return nil
}

// inStageTx runs fn in a transaction that starts by locking the stage row, so every
// read-check-write sequence on one stage is serialized.
func (e Engine) inStageTx(ctx context.Context, op, stageID string, fn func(tx *sql.Tx, st *domain.PipelineStage) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.LockStage(ctx, tx, stageID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return &domain.PipelineError{Kind: domain.ErrNotFound, Op: op, StageID: stageID}
		}
		return fmt.Errorf("lock stage: %w", err)
	}
	st, err := e.Repo.GetStage(ctx, tx, stageID)
	if err != nil {
		return fmt.Errorf("load stage: %w", err)
	}
	if err := fn(tx, &st); err != nil {
		return err
	}
	return tx.Commit()
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
