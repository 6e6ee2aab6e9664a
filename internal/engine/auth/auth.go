package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"caseflow/internal/domain"
	"caseflow/internal/repo"
)

// RoleSatisfies reports whether an actor holding role actor may act where required is demanded.
// Admins satisfy every role.
func RoleSatisfies(required, actor domain.Role) bool {
	return domain.RoleSatisfies(required, actor)
}

// Require returns a Forbidden error when actor does not satisfy required.
func Require(op string, required, actor domain.Role) error {
	if RoleSatisfies(required, actor) {
		return nil
	}
	return &domain.PipelineError{Kind: domain.ErrForbidden, Op: op, Role: actor, RequiredRole: required}
}

// Service resolves callers to actors backed by the actors table.
type Service struct {
	Repo repo.Repo
}

// ResolveActor returns the actor registered under id.
func (s Service) ResolveActor(ctx context.Context, id string) (domain.Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Actor{}, &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "resolve_actor", Detail: "actor id required"}
	}
	rec, err := s.Repo.GetActor(ctx, s.Repo.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, &domain.PipelineError{Kind: domain.ErrForbidden, Op: "resolve_actor", Detail: fmt.Sprintf("unknown actor %s", id)}
		}
		return domain.Actor{}, err
	}
	return domain.Actor{ID: rec.ID, Role: rec.Role}, nil
}

// ResolveAPIKey returns the actor owning the raw API key.
func (s Service) ResolveAPIKey(ctx context.Context, raw string) (domain.Actor, error) {
	key, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, &domain.PipelineError{Kind: domain.ErrForbidden, Op: "resolve_api_key", Detail: "invalid api key"}
		}
		return domain.Actor{}, err
	}
	return s.ResolveActor(ctx, key.ActorID)
}
