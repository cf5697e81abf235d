package services

import (
	"github.com/google/uuid"

	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/semanticlayer"
)

// SessionContext carries the active member context explicitly to every
// component that needs it. It is created when a member is selected and
// replaced wholesale on member switch; nothing reads ambient globals.
type SessionContext struct {
	ID          string
	Principal   *models.Principal
	Connections *semanticlayer.ConnectionManager
}

// NewSessionContext builds a session for a selected member. The principal
// must carry an email; without one no query can be scoped and the member
// cannot operate.
func NewSessionContext(principal *models.Principal, connections *semanticlayer.ConnectionManager) (*SessionContext, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	return &SessionContext{
		ID:          uuid.NewString(),
		Principal:   principal,
		Connections: connections,
	}, nil
}
