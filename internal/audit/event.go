package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionCancel Action = "cancel"
)

// Event is an immutable record of who did what to which appointment, and when.
type Event struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ActorID    uuid.UUID
	Action     Action
	SubjectID  uuid.UUID
	OccurredAt time.Time
	Meta       map[string]any
}

// Sink appends audit events to durable storage.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}
