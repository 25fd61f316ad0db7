package auth

import "errors"

// ErrUnauthorized signals the actor lacks the role a privileged operation requires.
var ErrUnauthorized = errors.New("auth: unauthorized")

// ArbitratorGrant is the capability handed to privileged dispute operations.
// It can only be obtained through RequireArbitrator, so a service method that
// takes a grant cannot be reached without the role check having run.
type ArbitratorGrant struct {
	actorID string
}

// ActorID identifies the arbitrator the grant was issued to.
func (g ArbitratorGrant) ActorID() string { return g.actorID }

// RequireArbitrator checks the actor holds the arbitrator role and returns a
// grant usable by privileged operations. Admins do not arbitrate: dispute
// rulings are attributable to a specific trusted arbitrator.
func RequireArbitrator(actor Actor) (ArbitratorGrant, error) {
	if actor.ID == "" || actor.Role != RoleArbitrator {
		return ArbitratorGrant{}, ErrUnauthorized
	}
	return ArbitratorGrant{actorID: actor.ID}, nil
}
