package model

import (
	"github.com/google/uuid"
)

// Principal is the request-scoped actor on whose behalf an engine operation
// runs. It is resolved once by the transport layer from the bearer token and
// passed explicitly into every call.
type Principal struct {
	ActorID uuid.UUID `json:"actor_id"`
	Kind    ActorKind `json:"kind"`
	Email   string    `json:"email,omitempty"`
}

// SystemPrincipal is used by cascades acting on derived records.
func SystemPrincipal() Principal {
	return Principal{Kind: ActorKindSystem}
}

func (p Principal) IsPrivileged() bool {
	return p.Kind == ActorKindAdmin || p.Kind == ActorKindSystem
}

// Is reports whether the principal is the given actor.
func (p Principal) Is(actorID uuid.UUID) bool {
	return actorID != uuid.Nil && p.ActorID == actorID
}
