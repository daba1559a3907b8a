package connection

import (
	"github.com/nolabru/psiconnect/internal/model"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

type Action string

const (
	ActionAccept     Action = "accept"
	ActionReject     Action = "reject"
	ActionDisconnect Action = "disconnect"
	ActionWithdraw   Action = "withdraw"
)

// Decision is the outcome of applying an action to a record. Noop means the
// record is already in the target status.
type Decision struct {
	To   model.AssociationStatus
	Noop bool
}

// Decide checks authorization first, then the status graph
// pending -> {active, rejected}, active -> inactive. Withdraw is the
// initiator's way out of a pending request and also ends in rejected.
func Decide(a *model.Association, action Action, p model.Principal) (Decision, error) {
	switch action {
	case ActionAccept, ActionReject:
		if !p.Is(a.Recipient()) && p.Kind != model.ActorKindSystem {
			return Decision{}, apperrors.Forbidden("only the recipient can answer this request")
		}
	case ActionDisconnect:
		if !a.HasParty(p.ActorID) && p.Kind != model.ActorKindSystem {
			return Decision{}, apperrors.Forbidden("only a party to the association can disconnect it")
		}
	case ActionWithdraw:
		if !p.Is(a.InitiatorID) && p.Kind != model.ActorKindSystem {
			return Decision{}, apperrors.Forbidden("only the initiator can withdraw this request")
		}
	default:
		return Decision{}, apperrors.BadRequest("unknown action "+string(action), nil)
	}

	to := target(action)
	if a.Status == to {
		return Decision{To: to, Noop: true}, nil
	}

	from := model.AssociationStatusPending
	if action == ActionDisconnect {
		from = model.AssociationStatusActive
	}
	if a.Status != from {
		return Decision{}, apperrors.InvalidTransition("association", string(a.Status), string(to))
	}
	return Decision{To: to}, nil
}

func target(action Action) model.AssociationStatus {
	switch action {
	case ActionAccept:
		return model.AssociationStatusActive
	case ActionReject, ActionWithdraw:
		return model.AssociationStatusRejected
	default:
		return model.AssociationStatusInactive
	}
}
