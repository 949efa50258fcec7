package tenancy

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	TenantHeader = "X-Tenant-ID"
	ActorHeader  = "X-Actor-ID"
)

var (
	ErrMissingTenant = errors.New("tenant not resolved")
	ErrMissingActor  = errors.New("actor not resolved")
)

// Actor is the resolved caller of a request: who is acting and on behalf of which tenant.
type Actor struct {
	TenantID uuid.UUID
	ActorID  uuid.UUID
}

// Provider resolves the tenant and actor for an inbound request. Failures are
// treated as authentication errors by callers and pre-empt every operation.
type Provider interface {
	Resolve(r *http.Request) (Actor, error)
}

// HeaderProvider trusts identity headers set by an upstream gateway.
type HeaderProvider struct{}

func (HeaderProvider) Resolve(r *http.Request) (Actor, error) {
	tenantID, err := uuid.Parse(strings.TrimSpace(r.Header.Get(TenantHeader)))
	if err != nil || tenantID == uuid.Nil {
		return Actor{}, ErrMissingTenant
	}

	actorID, err := uuid.Parse(strings.TrimSpace(r.Header.Get(ActorHeader)))
	if err != nil || actorID == uuid.Nil {
		return Actor{}, ErrMissingActor
	}

	return Actor{TenantID: tenantID, ActorID: actorID}, nil
}

type ctxKey string

const actorKey ctxKey = "scheduling.actor"

// WithActor stores the resolved actor in context for the HTTP layer.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext extracts the actor if present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok && a.TenantID != uuid.Nil
}
